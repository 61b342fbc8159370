package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Dashboard source metrics
	SourceFetchDuration *prometheus.HistogramVec
	SourceFetchTotal    *prometheus.CounterVec
	SourceConnected     *prometheus.GaugeVec
	OverviewBuildsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge

	// Business metrics
	TelemetryEventsTotal *prometheus.CounterVec
	AccountLinksTotal    *prometheus.CounterVec
	JobRunsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ping_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ping_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		SourceFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ping_dashboard_source_fetch_duration_seconds",
				Help:    "Time spent fetching metrics from a dashboard source",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 3, 5},
			},
			[]string{"source"},
		),
		SourceFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_dashboard_source_fetch_total",
				Help: "Dashboard source fetches by resulting state",
			},
			[]string{"source", "state"},
		),
		SourceConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ping_dashboard_source_connected",
				Help: "1 when the last fetch from a dashboard source succeeded",
			},
			[]string{"source"},
		),
		OverviewBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_dashboard_overview_builds_total",
				Help: "Dashboard overview requests by outcome",
			},
			[]string{"outcome"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ping_db_connections_open",
				Help: "Number of open primary database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ping_db_connections_in_use",
				Help: "Number of in-use primary database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ping_db_connections_idle",
				Help: "Number of idle primary database connections",
			},
		),

		TelemetryEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_telemetry_events_total",
				Help: "Telemetry events accepted for ingestion",
			},
			[]string{"event_type"},
		),
		AccountLinksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_external_account_links_total",
				Help: "External accounts newly linked by provider",
			},
			[]string{"provider"},
		),
		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ping_job_runs_total",
				Help: "Scheduled job runs by status",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.SourceFetchDuration,
		m.SourceFetchTotal,
		m.SourceConnected,
		m.OverviewBuildsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.TelemetryEventsTotal,
		m.AccountLinksTotal,
		m.JobRunsTotal,
	)

	return m
}

// ObserveSourceFetch records the outcome of a single dashboard source fetch.
// Safe to call on a nil receiver.
func (m *Metrics) ObserveSourceFetch(source, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.SourceFetchTotal.WithLabelValues(source, state).Inc()
	connected := 0.0
	if state == "connected" {
		connected = 1
	}
	m.SourceConnected.WithLabelValues(source).Set(connected)
}

// ObserveCache records a cache lookup. An empty tier means a miss.
func (m *Metrics) ObserveCache(cacheType, tier string) {
	if m == nil {
		return
	}
	if tier == "" {
		m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType, tier).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux path template so path parameters do not
// explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
