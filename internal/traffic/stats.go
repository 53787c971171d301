package traffic

import (
	"sync/atomic"
	"time"
)

// Stats tracks the process-wide counters surfaced by GET /health (§4.H).
// Every field is updated exclusively through atomic operations so the hot
// ingress/control paths never contend on a mutex for observability.
type Stats struct {
	requests      uint64
	errors        uint64
	rateLimited   uint64
	invalidTokens uint64

	startedAt time.Time
}

// NewStats creates a Stats instance with its start time set to now.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now()}
}

func (s *Stats) IncRequests()      { atomic.AddUint64(&s.requests, 1) }
func (s *Stats) IncErrors()        { atomic.AddUint64(&s.errors, 1) }
func (s *Stats) IncRateLimited()   { atomic.AddUint64(&s.rateLimited, 1) }
func (s *Stats) IncInvalidTokens() { atomic.AddUint64(&s.invalidTokens, 1) }

// UptimeSeconds reports how long the process has been running.
func (s *Stats) UptimeSeconds() float64 {
	return time.Since(s.startedAt).Seconds()
}

// Snapshot is the immutable view returned to /health.
type Snapshot struct {
	Requests      uint64
	Errors        uint64
	RateLimited   uint64
	InvalidTokens uint64
	UptimeSeconds float64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Requests:      atomic.LoadUint64(&s.requests),
		Errors:        atomic.LoadUint64(&s.errors),
		RateLimited:   atomic.LoadUint64(&s.rateLimited),
		InvalidTokens: atomic.LoadUint64(&s.invalidTokens),
		UptimeSeconds: s.UptimeSeconds(),
	}
}
