package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmit_AllowsUpToCapThenDenies(t *testing.T) {
	l := New(time.Minute, 3)
	for i := 0; i < 3; i++ {
		ok, _ := l.Admit("tok")
		assert.True(t, ok)
	}
	ok, retryAfter := l.Admit("tok")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestAdmit_IndependentPerIdentity(t *testing.T) {
	l := New(time.Minute, 1)
	ok1, _ := l.Admit("a")
	ok2, _ := l.Admit("b")
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestAdmit_WindowExpires(t *testing.T) {
	l := New(50*time.Millisecond, 1)
	cur := time.Now()
	l.now = func() time.Time { return cur }

	ok, _ := l.Admit("tok")
	assert.True(t, ok)

	ok, _ = l.Admit("tok")
	assert.False(t, ok, "second admission within window should be denied")

	cur = cur.Add(60 * time.Millisecond)
	ok, _ = l.Admit("tok")
	assert.True(t, ok, "admission after window elapses should succeed")
}

func TestSweep_EvictsEmptyRecords(t *testing.T) {
	l := New(10*time.Millisecond, 5)
	cur := time.Now()
	l.now = func() time.Time { return cur }

	l.Admit("tok")
	assert.Equal(t, 1, l.Len())

	cur = cur.Add(20 * time.Millisecond)
	removed := l.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, l.Len())
}

func TestAdmit_ConcurrentSafe(t *testing.T) {
	l := New(time.Minute, 1000)
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			l.Admit("shared")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.LessOrEqual(t, l.Len(), 1)
}
