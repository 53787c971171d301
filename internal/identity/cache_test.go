package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet_Fresh(t *testing.T) {
	c := NewCache[bool](100, 50*time.Millisecond, 250*time.Millisecond)
	c.Set("tok1", true)

	val, fresh, found := c.Get("tok1")
	assert.True(t, found)
	assert.True(t, fresh)
	assert.True(t, val)
}

func TestCache_Get_StaleButPresent(t *testing.T) {
	c := NewCache[bool](100, 20*time.Millisecond, 200*time.Millisecond)
	c.Set("tok1", true)
	time.Sleep(40 * time.Millisecond)

	val, fresh, found := c.Get("tok1")
	assert.True(t, found)
	assert.False(t, fresh)
	assert.True(t, val)
}

func TestCache_Get_Miss(t *testing.T) {
	c := NewCache[bool](100, time.Minute, 5*time.Minute)
	_, fresh, found := c.Get("nope")
	assert.False(t, found)
	assert.False(t, fresh)
}

func TestCache_Sweep_RemovesExpired(t *testing.T) {
	c := NewCache[string](100, time.Hour, time.Hour)
	c.Set("a", "x")
	time.Sleep(10 * time.Millisecond)

	removed := c.Sweep(5*time.Millisecond, 100)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Sweep_EnforcesCeiling(t *testing.T) {
	c := NewCache[string](1000, time.Hour, time.Hour)
	for i := 0; i < 10; i++ {
		c.Set(string(rune('a'+i)), "v")
		time.Sleep(time.Millisecond)
	}
	removed := c.Sweep(time.Hour, 4)
	assert.Equal(t, 5, removed)
}

func TestReservedAliases(t *testing.T) {
	assert.True(t, IsReservedAlias("www"))
	assert.True(t, IsReservedAlias("health"))
	assert.False(t, IsReservedAlias("mycustomer"))
}

func TestValidTokenShape(t *testing.T) {
	assert.True(t, ValidTokenShape("abc123"))
	assert.False(t, ValidTokenShape("ab"))
	assert.False(t, ValidTokenShape("has-dash"))
	assert.False(t, ValidTokenShape(""))
}
