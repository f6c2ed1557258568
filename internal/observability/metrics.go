// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collector.
type Metrics struct {
	// Collection metrics
	RecordsCollected      *prometheus.CounterVec
	CollectErrors         *prometheus.CounterVec
	CollectDuration       *prometheus.HistogramVec
	LastSuccessfulCollect *prometheus.GaugeVec
	BackoffDelay          *prometheus.GaugeVec

	// Orchestrator metrics
	CyclesTotal         prometheus.Counter
	CycleDuration       prometheus.Histogram
	CircuitBreakerTrips *prometheus.CounterVec

	// Storage metrics
	TotalRecords   prometheus.Gauge
	TotalSizeBytes prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "blockchain_collector"
	}

	return &Metrics{
		RecordsCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "records_total",
			Help:      "Total number of records collected by source",
		}, []string{"source"}),
		CollectErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "errors_total",
			Help:      "Total number of failed collection cycles by source",
		}, []string{"source"}),
		CollectDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "duration_seconds",
			Help:      "Collection cycle duration in seconds by source",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		LastSuccessfulCollect: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of last successful collection by source",
		}, []string{"source"}),
		BackoffDelay: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collection",
			Name:      "backoff_delay_seconds",
			Help:      "Current adaptive backoff delay in seconds by source",
		}, []string{"source"}),

		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total number of orchestrator poll cycles",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Orchestrator poll cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of safety circuit breaker trips by reason",
		}, []string{"reason"}),

		TotalRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "records_total",
			Help:      "Cumulative number of records held by the sink",
		}),
		TotalSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "size_bytes",
			Help:      "Cumulative size of stored data in bytes",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCollect records the outcome of one collection cycle for a source.
func RecordCollect(source string, records int, seconds float64, failed bool) {
	DefaultMetrics.RecordsCollected.WithLabelValues(source).Add(float64(records))
	DefaultMetrics.CollectDuration.WithLabelValues(source).Observe(seconds)
	if failed {
		DefaultMetrics.CollectErrors.WithLabelValues(source).Inc()
	}
}

// RecordCollectSuccess updates the last-success timestamp for a source.
func RecordCollectSuccess(source string, unixTime float64) {
	DefaultMetrics.LastSuccessfulCollect.WithLabelValues(source).Set(unixTime)
}

// UpdateBackoffDelay updates the backoff delay gauge for a source.
func UpdateBackoffDelay(source string, seconds float64) {
	DefaultMetrics.BackoffDelay.WithLabelValues(source).Set(seconds)
}

// RecordCycle records one orchestrator poll cycle.
func RecordCycle(seconds float64) {
	DefaultMetrics.CyclesTotal.Inc()
	DefaultMetrics.CycleDuration.Observe(seconds)
}

// RecordBreakerTrip records a safety circuit breaker trip.
func RecordBreakerTrip(reason string) {
	DefaultMetrics.CircuitBreakerTrips.WithLabelValues(reason).Inc()
}

// UpdateStorageTotals updates the cumulative storage gauges.
func UpdateStorageTotals(records, sizeBytes uint64) {
	DefaultMetrics.TotalRecords.Set(float64(records))
	DefaultMetrics.TotalSizeBytes.Set(float64(sizeBytes))
}
