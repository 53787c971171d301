package registry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister_ReplacesAndReturnsEvicted(t *testing.T) {
	r := New()
	s1 := &Session{Token: "tok"}
	s2 := &Session{Token: "tok"}

	evicted := r.Register("tok", s1)
	assert.Nil(t, evicted)

	evicted = r.Register("tok", s2)
	assert.Same(t, s1, evicted)

	got, ok := r.Lookup("tok")
	assert.True(t, ok)
	assert.Same(t, s2, got)
}

func TestDeregister_CompareByIdentity(t *testing.T) {
	r := New()
	s1 := &Session{Token: "tok"}
	s2 := &Session{Token: "tok"}

	r.Register("tok", s1)
	r.Register("tok", s2)

	// A late deregister for the evicted session must not remove s2.
	r.Deregister("tok", s1)
	got, ok := r.Lookup("tok")
	assert.True(t, ok)
	assert.Same(t, s2, got)

	r.Deregister("tok", s2)
	_, ok = r.Lookup("tok")
	assert.False(t, ok)
}

func TestSweep_RemovesDeadSessions(t *testing.T) {
	r := New()
	live := &Session{Token: "live"}
	dead := &Session{Token: "dead"}
	dead.MarkClosed()

	r.Register("live", live)
	r.Register("dead", dead)

	removed := r.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, r.Len())

	_, ok := r.Lookup("live")
	assert.True(t, ok)
}

func TestSnapshot_EvictsDeadAndReturnsLive(t *testing.T) {
	r := New()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	live := &Session{Token: "live", Conn: c1, TargetPort: 8080, RemoteAddr: "1.2.3.4:5"}
	dead := &Session{Token: "dead"}
	dead.MarkClosed()

	r.Register("live", live)
	r.Register("dead", dead)

	entries := r.Snapshot()
	assert.Len(t, entries, 1)
	assert.Equal(t, "live", entries[0].Token)
	assert.Equal(t, 0, r.Len()-1) // dead entry evicted, only "live" remains
}

func TestSessionAlive_ReflectsMarkClosed(t *testing.T) {
	s := &Session{Token: "x"}
	assert.True(t, s.Alive())
	s.MarkClosed()
	assert.False(t, s.Alive())
}
