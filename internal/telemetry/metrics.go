package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SlotDuplicates counts identical slots collapsed while merging windows. A non-zero rate means
	// overlapping windows got into the store.
	SlotDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drivesched",
		Name:      "slot_duplicates_total",
		Help:      "Duplicate bookable slots dropped during availability resolution",
	})

	ResolveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "drivesched",
		Subsystem: "engine",
		Name:      "resolve_seconds",
		Help:      "Availability resolution latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"source"})

	// WindowWrites labels: op (add, update, remove, copy_week), outcome (ok, overlap, invalid, error)
	WindowWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesched",
		Subsystem: "windows",
		Name:      "writes_total",
		Help:      "Availability window writes by operation and outcome",
	}, []string{"op", "outcome"})

	// BookingAttempts labels: outcome (created, conflict, outside_hours, invalid, error)
	BookingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesched",
		Subsystem: "bookings",
		Name:      "attempts_total",
		Help:      "Booking creation attempts by outcome",
	}, []string{"outcome"})

	// CacheLookups labels: result (hit, miss, error)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesched",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Availability cache lookups by result",
	}, []string{"result"})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drivesched",
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "Domain events that could not be published",
	}, []string{"topic"})
)

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
