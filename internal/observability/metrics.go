package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marquee-ops/inventory-engine/internal/ledger"
)

// Metrics collects Prometheus metrics for the engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal   *prometheus.CounterVec
	versionConflicts prometheus.Counter
	quarantinedKeys  prometheus.Gauge
	sweepReleases    prometheus.Counter
}

// NewMetrics initializes the registry with HTTP and movement metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_ledger_movements_total",
		Help: "Ledger entries posted by transaction type.",
	}, []string{"type"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_stock_version_conflicts_total",
		Help: "Optimistic concurrency collisions on stock records.",
	})
	quarantined := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_ledger_quarantined_keys",
		Help: "Stock keys currently quarantined after a replay mismatch.",
	})
	sweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_reservation_sweep_releases_total",
		Help: "Expired reservations released by the sweeper.",
	})
	registry.MustRegister(requests, duration, movements, conflicts, quarantined, sweeps)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		movementsTotal:   movements,
		versionConflicts: conflicts,
		quarantinedKeys:  quarantined,
		sweepReleases:    sweeps,
	}
}

// MovementPosted implements ledger.MetricsPort.
func (m *Metrics) MovementPosted(t ledger.TransactionType) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(string(t)).Inc()
}

// VersionConflict implements ledger.MetricsPort.
func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

// KeyQuarantined implements ledger.MetricsPort.
func (m *Metrics) KeyQuarantined() {
	if m == nil {
		return
	}
	m.quarantinedKeys.Inc()
}

// SweepReleased records the release count of one expiry sweep.
func (m *Metrics) SweepReleased(count int) {
	if m == nil {
		return
	}
	m.sweepReleases.Add(float64(count))
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
