// Package introspection implements the relay's secret-gated operational
// endpoints (§4.H): /health, /internal/connected-tokens, and
// /internal/traffic-stats.
package introspection

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

// Handler bundles the collaborators introspection routes read from.
type Handler struct {
	InternalSecret string
	Registry       *registry.Registry
	Pending        *pending.Table
	Tracker        *traffic.Tracker
	Stats          *traffic.Stats
	RelayRunID     string
	StartedAt      string
}

// RequireSecret is gin middleware enforcing the shared internal secret on
// every route in this package (§4.H: "a missing or mismatched header returns
// 403").
func (h *Handler) RequireSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("x-relay-internal-secret")
		if got == "" || got != h.InternalSecret {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// Health answers GET /health.
func (h *Handler) Health(c *gin.Context) {
	snap := h.Stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"uptimeSeconds":     snap.UptimeSeconds,
		"requests":          snap.Requests,
		"errors":            snap.Errors,
		"rateLimited":       snap.RateLimited,
		"invalidTokens":     snap.InvalidTokens,
		"activeConnections": h.Registry.Len(),
		"pendingRequests":   h.Pending.Len(),
	})
}

// ConnectedTokens answers GET /internal/connected-tokens. It performs a
// liveness sweep over the registry before responding, per §4.H.
func (h *Handler) ConnectedTokens(c *gin.Context) {
	entries := h.Registry.Snapshot()

	tokens := make([]string, 0, len(entries))
	tunnels := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		tokens = append(tokens, e.Token)
		tunnels = append(tunnels, gin.H{
			"token":       e.Token,
			"clientIp":    e.ClientIP,
			"targetPort":  e.TargetPort,
			"connectedAt": e.ConnectedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "tunnels": tunnels})
}

// TrafficStats answers GET /internal/traffic-stats.
func (h *Handler) TrafficStats(c *gin.Context) {
	byToken, byAlias := h.Tracker.Snapshot()
	tokensTracked, aliasesTracked := h.Tracker.Totals()

	c.JSON(http.StatusOK, gin.H{
		"relayRunId": h.RelayRunID,
		"since":      h.StartedAt,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"totals": gin.H{
			"tokensTracked":  tokensTracked,
			"aliasesTracked": aliasesTracked,
			"connected":      h.Registry.Len(),
			"pending":        h.Pending.Len(),
		},
		"byToken": byToken,
		"byAlias": byAlias,
	})
}
