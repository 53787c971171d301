// Package identity implements the fail-closed-with-grace token and alias
// caches (§4.C) backed by an outbound client to the control plane.
package identity

import (
	"sort"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with the time it was last refreshed from the
// control plane. The cache itself evicts an entry at graceTTL (5xTTL); the
// freshTTL boundary is enforced here so a still-present-but-stale entry can
// be returned as a grace hit instead of a miss.
type entry[V any] struct {
	value       V
	refreshedAt time.Time
}

// Cache is a size-bounded, TTL-aware cache that distinguishes a "fresh" hit
// (within freshTTL of its last refresh) from a "stale" one (past freshTTL but
// within graceTTL, returned to callers during an upstream outage per §4.C).
type Cache[V any] struct {
	c        *otter.Cache[string, entry[V]]
	freshTTL time.Duration
}

// NewCache creates a cache holding at most maxSize entries, evicting any
// entry not refreshed within graceTTL. freshTTL must be <= graceTTL.
func NewCache[V any](maxSize int, freshTTL, graceTTL time.Duration) *Cache[V] {
	c := otter.Must(&otter.Options[string, entry[V]]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry[V]](graceTTL),
	})
	return &Cache[V]{c: c, freshTTL: freshTTL}
}

// Get reports whether key is present at all (found) and, if so, whether the
// value is still within its fresh window (fresh). A found-but-not-fresh
// result is the grace case: the caller decides whether grace applies.
func (c *Cache[V]) Get(key string) (value V, fresh bool, found bool) {
	e, ok := c.c.GetIfPresent(key)
	if !ok {
		var zero V
		return zero, false, false
	}
	return e.value, time.Since(e.refreshedAt) <= c.freshTTL, true
}

// Set stores value for key, stamped with the current time as its refresh
// point.
func (c *Cache[V]) Set(key string, value V) {
	c.c.Set(key, entry[V]{value: value, refreshedAt: time.Now()})
}

// Delete removes key unconditionally.
func (c *Cache[V]) Delete(key string) {
	c.c.Invalidate(key)
}

// Len reports the current entry count.
func (c *Cache[V]) Len() int {
	return c.c.EstimatedSize()
}

// Sweep performs the janitor's explicit maintenance pass (§4.J): entries
// older than graceTTL are dropped (normally otter's own expiry already
// handles this; this catches anything still observable at sweep time), and
// if the cache still exceeds ceiling afterward the oldest half by
// refreshedAt is evicted.
func (c *Cache[V]) Sweep(graceTTL time.Duration, ceiling int) (removed int) {
	cutoff := time.Now().Add(-graceTTL)
	type keyed struct {
		key         string
		refreshedAt time.Time
	}
	var stale []string
	var all []keyed
	for k, e := range c.c.All() {
		if e.refreshedAt.Before(cutoff) {
			stale = append(stale, k)
		} else {
			all = append(all, keyed{key: k, refreshedAt: e.refreshedAt})
		}
	}
	for _, k := range stale {
		c.c.Invalidate(k)
	}
	removed = len(stale)

	if len(all) > ceiling {
		sort.Slice(all, func(i, j int) bool { return all[i].refreshedAt.Before(all[j].refreshedAt) })
		evictCount := len(all) / 2
		for i := 0; i < evictCount; i++ {
			c.c.Invalidate(all[i].key)
			removed++
		}
	}
	return removed
}
