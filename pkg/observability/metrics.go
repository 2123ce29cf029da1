package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the API server
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth metrics
	LoginsTotal        *prometheus.CounterVec
	TokenRefreshTotal  *prometheus.CounterVec
	PermissionChecks   *prometheus.CounterVec
	PermissionCacheHit prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	UsersTotal       prometheus.Gauge
	ActiveUsersTotal prometheus.Gauge
	GroupsTotal      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherly_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatherly_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherly_logins_total",
				Help: "Total number of login attempts",
			},
			[]string{"status"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherly_token_refresh_total",
				Help: "Total number of token refresh attempts",
			},
			[]string{"status"},
		),
		PermissionChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatherly_permission_checks_total",
				Help: "Total number of permission evaluations",
			},
			[]string{"decision"},
		),
		PermissionCacheHit: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatherly_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherly_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherly_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherly_users_total",
				Help: "Total number of registered users",
			},
		),
		ActiveUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherly_active_users_total",
				Help: "Number of users with active accounts",
			},
		),
		GroupsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatherly_groups_total",
				Help: "Total number of groups",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.TokenRefreshTotal,
		m.PermissionChecks,
		m.PermissionCacheHit,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.UsersTotal,
		m.ActiveUsersTotal,
		m.GroupsTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics. The path
// label uses the route template, not the raw URL, to bound cardinality.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
