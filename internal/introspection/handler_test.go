package introspection

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/firstprinciplecode/uplink-sub001/internal/pending"
	"github.com/firstprinciplecode/uplink-sub001/internal/registry"
	"github.com/firstprinciplecode/uplink-sub001/internal/traffic"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler() *Handler {
	return &Handler{
		InternalSecret: "shh",
		Registry:       registry.New(),
		Pending:        pending.New(),
		Tracker:        traffic.NewTracker(),
		Stats:          traffic.NewStats(),
		RelayRunID:     "run-1",
		StartedAt:      "2026-01-01T00:00:00Z",
	}
}

func TestRequireSecret_Mismatch403(t *testing.T) {
	h := newTestHandler()
	r := gin.New()
	r.Use(h.RequireSecret())
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireSecret_MatchPasses(t *testing.T) {
	h := newTestHandler()
	r := gin.New()
	r.Use(h.RequireSecret())
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("x-relay-internal-secret", "shh")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnectedTokens_SweepsDeadSessions(t *testing.T) {
	h := newTestHandler()
	dead := &registry.Session{Token: "dead"}
	dead.MarkClosed()
	h.Registry.Register("dead", dead)

	r := gin.New()
	r.GET("/internal/connected-tokens", h.ConnectedTokens)

	req := httptest.NewRequest(http.MethodGet, "/internal/connected-tokens", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.Registry.Len())
}

func TestTrafficStats_IncludesRelayRunID(t *testing.T) {
	h := newTestHandler()
	r := gin.New()
	r.GET("/internal/traffic-stats", h.TrafficStats)

	req := httptest.NewRequest(http.MethodGet, "/internal/traffic-stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "run-1")
}
