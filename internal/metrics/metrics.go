package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the boxauth service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics.
	AuthSuccessesTotal *prometheus.CounterVec
	AuthFailuresTotal  *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter

	// Rate limiting.
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Session lifecycle.
	SessionsIssuedTotal  prometheus.Counter
	SessionsRotatedTotal prometheus.Counter
	SessionsRevokedTotal prometheus.Counter
	ImpersonationsTotal  prometheus.Counter

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxauth_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "boxauth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxauth_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxauth_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxauth_lockouts_total",
			Help: "Total number of login attempts rejected by the lockout guard.",
		}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boxauth_ratelimit_rejections_total",
			Help: "Total number of rate limit rejections.",
		}, []string{"scope"}),

		SessionsIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxauth_sessions_issued_total",
			Help: "Total number of refresh sessions issued.",
		}),

		SessionsRotatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxauth_sessions_rotated_total",
			Help: "Total number of refresh sessions rotated.",
		}),

		SessionsRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxauth_sessions_revoked_total",
			Help: "Total number of refresh sessions revoked by logout.",
		}),

		ImpersonationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boxauth_impersonations_total",
			Help: "Total number of admin impersonation grants.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "boxauth_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	// Register all metrics.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthSuccessesTotal,
		m.AuthFailuresTotal,
		m.LockoutsTotal,
		m.RateLimitRejectionsTotal,
		m.SessionsIssuedTotal,
		m.SessionsRotatedTotal,
		m.SessionsRevokedTotal,
		m.ImpersonationsTotal,
		m.ServerStartTime,
	)

	// Set server start time.
	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTPRequest records a completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncLockout increments the lockout rejection counter.
func (m *Metrics) IncLockout() {
	m.LockoutsTotal.Inc()
}

// IncRateLimitRejection increments the rate limit rejection counter.
func (m *Metrics) IncRateLimitRejection(scope string) {
	m.RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}
