package api

import (
	"net/http"
	"strconv"
	"time"

	"immichhub/internal/integration"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one server. Each server owns its own
// registry so several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	jobActive  *prometheus.GaugeVec
	jobFailed  *prometheus.GaugeVec
	jobWaiting *prometheus.GaugeVec
	jobPaused  *prometheus.GaugeVec

	refreshTotal *prometheus.CounterVec
	lastRefresh  prometheus.Gauge
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		jobActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "immich_job_active",
				Help: "Active tasks per Immich job queue",
			},
			[]string{"job"},
		),
		jobFailed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "immich_job_failed",
				Help: "Failed tasks per Immich job queue",
			},
			[]string{"job"},
		),
		jobWaiting: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "immich_job_waiting",
				Help: "Waiting tasks per Immich job queue",
			},
			[]string{"job"},
		),
		jobPaused: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "immich_job_paused",
				Help: "1 if the Immich job queue is paused",
			},
			[]string{"job"},
		),

		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "immich_refresh_total",
				Help: "Job refreshes by result",
			},
			[]string{"result"},
		),
		lastRefresh: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "immich_last_refresh_timestamp_seconds",
				Help: "Unix time of the last successful refresh",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRefresh is a coordinator listener
func (m *Metrics) ObserveRefresh(snap integration.Snapshot) {
	if snap.Err != nil {
		m.refreshTotal.WithLabelValues("error").Inc()
		return
	}
	m.refreshTotal.WithLabelValues("success").Inc()
	if !snap.LastRefresh.IsZero() {
		m.lastRefresh.Set(float64(snap.LastRefresh.Unix()))
	}

	// Jobs that disappeared keep no stale series
	m.jobActive.Reset()
	m.jobFailed.Reset()
	m.jobWaiting.Reset()
	m.jobPaused.Reset()
	for name, job := range snap.Jobs {
		m.jobActive.WithLabelValues(name).Set(float64(job.ActiveCount))
		m.jobFailed.WithLabelValues(name).Set(float64(job.FailedCount))
		m.jobWaiting.WithLabelValues(name).Set(float64(job.WaitingCount))
		paused := 0.0
		if job.QueuePaused {
			paused = 1
		}
		m.jobPaused.WithLabelValues(name).Set(paused)
	}
}

// Middleware records HTTP request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket connections live for minutes and need the raw writer
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		m.httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
