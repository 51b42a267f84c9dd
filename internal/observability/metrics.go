package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for hazina-mcp.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Upstream Hazina API metrics.
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Token exchange metrics.
	TokenRefreshesTotal *prometheus.CounterVec

	// Tool invocation metrics.
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Rate limiting metrics.
	RateLimitedTotal *prometheus.CounterVec

	// Hosted HTTP surface metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Session metrics.
	ActiveSessions prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazina",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total upstream Hazina API requests.",
		}, []string{"method", "endpoint", "status"}),

		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hazina",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Upstream Hazina API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "endpoint"}),

		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazina",
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total agent access-token exchanges.",
		}, []string{"outcome"}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazina",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total MCP tool invocations.",
		}, []string{"tool", "status"}),

		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hazina",
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "MCP tool invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazina",
			Subsystem: "tool",
			Name:      "rate_limited_total",
			Help:      "Total tool invocations rejected by the rate limiter.",
		}, []string{"tool"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hazina",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total hosted-mode HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hazina",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Hosted-mode HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hazina",
			Name:      "active_sessions",
			Help:      "Number of currently connected MCP sessions.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.TokenRefreshesTotal,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.RateLimitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveSessions,
	)

	return m
}
