// Package metrics provides Prometheus instrumentation for the gift gate.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "giftgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts gate decisions by action, outcome, and deny reason.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftgate",
			Name:      "decisions_total",
			Help:      "Total gate decisions by action, outcome, and reason.",
		},
		[]string{"action", "outcome", "reason"},
	)

	// BansTotal counts bans issued by reason.
	BansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "giftgate",
			Name:      "bans_total",
			Help:      "Total temporary bans issued by reason.",
		},
		[]string{"reason"},
	)

	// NonceReplaysTotal counts detected envelope replays.
	NonceReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "giftgate",
		Name:      "nonce_replays_total",
		Help:      "Total envelope nonce replays detected.",
	})

	// DebitsTotal counts successful balance debits.
	DebitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "giftgate",
		Name:      "debits_total",
		Help:      "Total successful gift debits.",
	})

	// DebitedCoins accumulates coins debited for accepted gifts.
	DebitedCoins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "giftgate",
		Name:      "debited_coins_total",
		Help:      "Total coins debited for accepted gifts.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		BansTotal,
		NonceReplaysTotal,
		DebitsTotal,
		DebitedCoins,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
