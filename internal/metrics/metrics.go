// Package metrics exposes the relay's Prometheus collectors, mirroring the
// teacher's middleware/metrics.go shape (labeled counters + histograms,
// registered via promauto at package init).
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingressRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_ingress_requests_total",
			Help: "Total number of public ingress requests by outcome",
		},
		[]string{"method", "status"},
	)

	ingressRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_ingress_request_duration_seconds",
			Help:    "Ingress request latency in seconds, from admission to response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	controlSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_control_sessions_active",
			Help: "Number of currently registered tunnel clients",
		},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limited_total",
			Help: "Total number of ingress requests rejected by the rate limiter",
		},
	)

	invalidTokenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_invalid_token_total",
			Help: "Total number of register/ingress attempts rejected for an invalid token",
		},
	)
)

// Middleware records per-request counters and latency for the ingress
// router, following the teacher's MetricsMiddleware pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		ingressRequestsTotal.WithLabelValues(c.Request.Method, status).Inc()
		ingressRequestDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

// SetActiveSessions updates the control-sessions gauge; call after every
// registry mutation or janitor sweep.
func SetActiveSessions(n int) {
	controlSessionsActive.Set(float64(n))
}

// RecordRateLimited increments the rate-limited counter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordInvalidToken increments the invalid-token counter.
func RecordInvalidToken() {
	invalidTokenTotal.Inc()
}
