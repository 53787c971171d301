// Package janitor runs the relay's periodic maintenance sweep (§4.J): dead
// registry entries, stale rate-limit windows, and expired/oversized identity
// caches.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/firstprinciplecode/uplink-sub001/internal/identity"
	"github.com/firstprinciplecode/uplink-sub001/internal/metrics"
	"github.com/firstprinciplecode/uplink-sub001/internal/ratelimit"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
)

// Janitor owns the collaborators it sweeps and the interval it sweeps them
// on.
type Janitor struct {
	Registry     *registry.Registry
	Limiter      *ratelimit.Limiter
	Validator    *identity.Validator
	Interval     time.Duration
	GraceTTL     time.Duration
	CacheCeiling int
}

// Run blocks, sweeping every Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepOnce()
		}
	}
}

func (j *Janitor) sweepOnce() {
	deadSessions := j.Registry.Sweep()
	staleRateLimits := j.Limiter.Sweep()
	cacheEvictions := j.Validator.SweepCaches(j.GraceTTL, j.CacheCeiling)
	metrics.SetActiveSessions(j.Registry.Len())

	slog.Info("janitor sweep complete",
		"deadSessionsRemoved", deadSessions,
		"staleRateLimitsRemoved", staleRateLimits,
		"cacheEntriesRemoved", cacheEvictions,
		"connectedSessions", j.Registry.Len(),
		"rateLimitRecords", j.Limiter.Len(),
		"tokenCacheSize", j.Validator.TokenCacheLen(),
		"aliasCacheSize", j.Validator.AliasCacheLen(),
	)
}
