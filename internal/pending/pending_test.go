package pending

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComplete_DeliversResult(t *testing.T) {
	table := New()
	_, resultCh := table.Allocate("id1", "tok", "", time.Second)

	ok, token, _ := table.Complete("id1", 200, http.Header{"X-Test": {"1"}}, []byte("hello"))
	assert.True(t, ok)
	assert.Equal(t, "tok", token)

	result := <-resultCh
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, []byte("hello"), result.Body)
	assert.Equal(t, 0, table.Len())
}

func TestComplete_UnknownIDReturnsFalse(t *testing.T) {
	table := New()
	ok, _, _ := table.Complete("nonexistent", 200, nil, nil)
	assert.False(t, ok)
}

func TestTimeout_Delivers504(t *testing.T) {
	table := New()
	_, resultCh := table.Allocate("id1", "tok", "", 10*time.Millisecond)

	result := <-resultCh
	assert.Equal(t, http.StatusGatewayTimeout, result.StatusCode)
	assert.Equal(t, 0, table.Len())
}

func TestCancel_RemovesWithoutDelivering(t *testing.T) {
	table := New()
	_, resultCh := table.Allocate("id1", "tok", "", time.Second)

	table.Cancel("id1")
	_, open := <-resultCh
	assert.False(t, open, "channel should be closed without a value")
	assert.Equal(t, 0, table.Len())
}

func TestCompleteThenCancel_ExactlyOnce(t *testing.T) {
	table := New()
	_, resultCh := table.Allocate("id1", "tok", "", time.Second)

	ok1, _, _ := table.Complete("id1", 200, nil, nil)
	table.Cancel("id1") // id already removed; should be a no-op

	assert.True(t, ok1)
	result := <-resultCh
	assert.Equal(t, 200, result.StatusCode)
}

func TestAllocate_IndependentEntries(t *testing.T) {
	table := New()
	table.Allocate("a", "tok1", "", time.Second)
	table.Allocate("b", "tok2", "", time.Second)
	assert.Equal(t, 2, table.Len())

	table.Complete("a", 200, nil, nil)
	assert.Equal(t, 1, table.Len())
}
