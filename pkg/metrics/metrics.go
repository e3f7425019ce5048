// Package metrics exposes the sync engine's Prometheus series: rate
// limiter admits/retries/429s, HTTP requests, pages fetched, rows
// upserted, sync duration, and scheduler dispatches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Rate limiter metrics
	RateLimiterAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "picqer_rate_limiter_admitted_total",
			Help: "Total number of operations admitted by the rate limiter",
		},
	)

	RateLimiterRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "picqer_rate_limiter_retries_total",
			Help: "Total number of operations retried after a 429 response",
		},
	)

	RateLimiterRateLimitHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "picqer_rate_limiter_hits_total",
			Help: "Total number of 429 rate-limit responses observed",
		},
	)

	RateLimiterFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "picqer_rate_limiter_failures_total",
			Help: "Total number of operations that failed for a non-rate-limit reason",
		},
	)

	// HTTP client metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_http_requests_total",
			Help: "Total number of upstream HTTP requests by entity kind and status class",
		},
		[]string{"entity_kind", "status_class"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "picqer_http_request_duration_seconds",
			Help:    "Upstream HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity_kind"},
	)

	PagesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_pages_fetched_total",
			Help: "Total number of pages fetched per entity kind",
		},
		[]string{"entity_kind"},
	)

	// Upsert writer metrics
	RowsUpsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_rows_upserted_total",
			Help: "Total number of rows written per table",
		},
		[]string{"table"},
	)

	ChunkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "picqer_chunk_write_duration_seconds",
			Help:    "Time taken to write one chunk transaction",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity_kind"},
	)

	// Sync engine metrics
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_sync_runs_total",
			Help: "Total number of sync runs by entity kind and terminal status",
		},
		[]string{"entity_kind", "status"},
	)

	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "picqer_sync_duration_seconds",
			Help:    "Sync run duration in seconds by entity kind and mode",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"entity_kind", "mode"},
	)

	ItemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_items_processed_total",
			Help: "Total number of upstream records processed by entity kind",
		},
		[]string{"entity_kind"},
	)

	MappingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_mapping_errors_total",
			Help: "Total number of records skipped for a mapping error",
		},
		[]string{"entity_kind"},
	)

	ActiveSyncs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "picqer_active_syncs",
			Help: "Number of in-progress syncs by entity kind (0 or 1)",
		},
		[]string{"entity_kind"},
	)

	// Scheduler metrics
	SchedulerDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_scheduler_dispatches_total",
			Help: "Total number of sync jobs dispatched by entity kind",
		},
		[]string{"entity_kind"},
	)

	SchedulerRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "picqer_scheduler_rejected_total",
			Help: "Total number of dispatch requests rejected because a sync was already running",
		},
		[]string{"entity_kind"},
	)

	// Last-sync-date gauge, refreshed periodically from the Progress Store
	LastSyncTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "picqer_last_sync_unixtime",
			Help: "Unix timestamp of the last successful sync per entity kind",
		},
		[]string{"entity_kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RateLimiterAdmittedTotal,
		RateLimiterRetriesTotal,
		RateLimiterRateLimitHitsTotal,
		RateLimiterFailuresTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PagesFetchedTotal,
		RowsUpsertedTotal,
		ChunkWriteDuration,
		SyncRunsTotal,
		SyncDuration,
		ItemsProcessedTotal,
		MappingErrorsTotal,
		ActiveSyncs,
		SchedulerDispatchesTotal,
		SchedulerRejectedTotal,
		LastSyncTimestamp,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
