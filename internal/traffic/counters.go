// Package traffic tracks per-token and per-alias request/response counters
// (§4.I) and the process-wide relay run id (§3).
package traffic

import (
	"sync"
	"time"
)

// Counter is one identity's traffic tally. The count and byte fields are
// monotone non-decreasing for the lifetime of the relay run; LastSeen and
// LastStatus hold the most recent request/response.
type Counter struct {
	Requests   uint64
	Responses  uint64
	BytesIn    uint64
	BytesOut   uint64
	LastSeen   time.Time
	LastStatus int
}

// Tracker owns the two counter maps (by token, by alias). The control plane
// polls a Snapshot periodically and persists it; the relay itself never
// writes counters to disk.
type Tracker struct {
	mu      sync.RWMutex
	byToken map[string]*Counter
	byAlias map[string]*Counter
	now     func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byToken: make(map[string]*Counter),
		byAlias: make(map[string]*Counter),
		now:     time.Now,
	}
}

// RecordRequest increments the request counter (and bytes-in) for token and,
// when the request arrived on an alias host, for alias too.
func (t *Tracker) RecordRequest(token, alias string, bodyLen int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterFor(t.byToken, token)
	c.Requests++
	c.BytesIn += uint64(bodyLen)
	c.LastSeen = now

	if alias != "" {
		a := t.counterFor(t.byAlias, alias)
		a.Requests++
		a.BytesIn += uint64(bodyLen)
		a.LastSeen = now
	}
}

// RecordResponse increments the response counter (bytes-out, last status) for
// token and, when known, alias.
func (t *Tracker) RecordResponse(token, alias string, status, bodyLen int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.counterFor(t.byToken, token)
	c.Responses++
	c.BytesOut += uint64(bodyLen)
	c.LastSeen = now
	c.LastStatus = status

	if alias != "" {
		a := t.counterFor(t.byAlias, alias)
		a.Responses++
		a.BytesOut += uint64(bodyLen)
		a.LastSeen = now
		a.LastStatus = status
	}
}

func (t *Tracker) counterFor(m map[string]*Counter, key string) *Counter {
	c, ok := m[key]
	if !ok {
		c = &Counter{}
		m[key] = c
	}
	return c
}

// ByTokenEntry and ByAliasEntry name a snapshot row, matching the
// `byToken`/`byAlias` arrays in /internal/traffic-stats (§4.H).
type ByTokenEntry struct {
	Token string
	Counter
}

type ByAliasEntry struct {
	Alias string
	Counter
}

// Snapshot returns an immutable copy of both counter maps, safe to hand to a
// JSON encoder without further locking.
func (t *Tracker) Snapshot() (byToken []ByTokenEntry, byAlias []ByAliasEntry) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byToken = make([]ByTokenEntry, 0, len(t.byToken))
	for token, c := range t.byToken {
		byToken = append(byToken, ByTokenEntry{Token: token, Counter: *c})
	}
	byAlias = make([]ByAliasEntry, 0, len(t.byAlias))
	for alias, c := range t.byAlias {
		byAlias = append(byAlias, ByAliasEntry{Alias: alias, Counter: *c})
	}
	return byToken, byAlias
}

// Totals reports how many distinct identities are tracked.
func (t *Tracker) Totals() (tokensTracked, aliasesTracked int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byToken), len(t.byAlias)
}
