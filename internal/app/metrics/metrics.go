package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "matrix_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matrix_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	placements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "engine",
			Name:      "placements_total",
			Help:      "Total seat placements by outcome.",
		},
		[]string{"status"},
	)

	placementRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "engine",
			Name:      "placement_retries_total",
			Help:      "Seat-race retries during placement.",
		},
	)

	recycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "engine",
			Name:      "recycles_total",
			Help:      "Completed tree archival cycles.",
		},
	)

	upgrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "engine",
			Name:      "slot_upgrades_total",
			Help:      "Slot upgrades by funding type.",
		},
		[]string{"type"},
	)

	commissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "engine",
			Name:      "commissions_total",
			Help:      "Commission credit intents by type and status.",
		},
		[]string{"type", "status"},
	)

	hookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_layer",
			Subsystem: "hooks",
			Name:      "failures_total",
			Help:      "Best-effort hook failures by hook name.",
		},
		[]string{"hook"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		placements,
		placementRetries,
		recycles,
		upgrades,
		commissions,
		hookFailures,
	)
}

// ObservePlacement records a placement outcome.
func ObservePlacement(status string) { placements.WithLabelValues(status).Inc() }

// ObservePlacementRetry counts a lost seat race that was retried.
func ObservePlacementRetry() { placementRetries.Inc() }

// ObserveRecycle counts a completed archival cycle.
func ObserveRecycle() { recycles.Inc() }

// ObserveUpgrade records a slot upgrade by funding type.
func ObserveUpgrade(fundingType string) { upgrades.WithLabelValues(fundingType).Inc() }

// ObserveCommission records a commission intent outcome.
func ObserveCommission(commissionType, status string) {
	commissions.WithLabelValues(commissionType, status).Inc()
}

// ObserveHookFailure counts a best-effort hook failure.
func ObserveHookFailure(hook string) { hookFailures.WithLabelValues(hook).Inc() }

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps next with request counting and latency tracking.
// The path label uses the route template, not the raw URL, to keep
// cardinality bounded.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
