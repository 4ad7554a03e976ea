// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mentionwatch/mentionwatch/internal/monitor"
)

var (
	mentionsFetchedTotal  *prometheus.CounterVec
	sourceFailuresTotal   *prometheus.CounterVec
	rateLimitDenialsTotal *prometheus.CounterVec
	recordsPersistedTotal prometheus.Counter
	scanDurationSeconds   *prometheus.HistogramVec
	activeScans           prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mentionsFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_mentions_fetched_total",
				Help: "Total candidate records fetched, labeled by source.",
			},
			[]string{"source"},
		)

		sourceFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_source_failures_total",
				Help: "Total per-source fetch failures, labeled by source and error class.",
			},
			[]string{"source", "class"},
		)

		rateLimitDenialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_rate_limit_denials_total",
				Help: "Total admissions denied by the rate limit guard, labeled by endpoint class.",
			},
			[]string{"class"},
		)

		recordsPersistedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_records_persisted_total",
				Help: "Total enriched records newly persisted.",
			},
		)

		scanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_scan_duration_seconds",
				Help:    "Histogram of per-keyword scan durations, labeled by run status.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_active_scans",
				Help: "Number of keyword scans currently in flight.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records candidates returned by one source fetch.
func ObserveFetch(source monitor.SourceID, count int) {
	if mentionsFetchedTotal == nil {
		return
	}
	mentionsFetchedTotal.WithLabelValues(string(source)).Add(float64(count))
}

// ObserveSourceFailure records a contained fetcher failure.
func ObserveSourceFailure(source monitor.SourceID, err error) {
	if sourceFailuresTotal == nil {
		return
	}
	sourceFailuresTotal.WithLabelValues(string(source), classify(err)).Inc()
}

// ObserveRateLimitDenial records one guard denial.
func ObserveRateLimitDenial(class string) {
	if rateLimitDenialsTotal == nil {
		return
	}
	rateLimitDenialsTotal.WithLabelValues(class).Inc()
}

// ObservePersisted records newly persisted enriched records.
func ObservePersisted(count int) {
	if recordsPersistedTotal == nil {
		return
	}
	recordsPersistedTotal.Add(float64(count))
}

// ObserveScan records a finished keyword scan.
func ObserveScan(status monitor.RunStatus, duration time.Duration) {
	if scanDurationSeconds == nil {
		return
	}
	scanDurationSeconds.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// ScanStarted increments the in-flight gauge and returns the matching
// decrement for deferring.
func ScanStarted() func() {
	if activeScans == nil {
		return func() {}
	}
	activeScans.Inc()
	return activeScans.Dec
}

func classify(err error) string {
	switch {
	case errors.Is(err, monitor.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, monitor.ErrSelectorMismatch):
		return "selector"
	case errors.Is(err, monitor.ErrSourceUnavailable):
		return "unavailable"
	case errors.Is(err, monitor.ErrMisconfiguredCredential):
		return "credential"
	default:
		return "other"
	}
}
