package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion run metrics
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_runs_total",
			Help: "Total number of ingestion runs per source",
		},
		[]string{"source", "status"}, // ok, failed
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_run_duration_seconds",
			Help:    "Duration of one source's ingestion run",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"source"},
	)

	// Per-market processing metrics
	MarketsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_markets_processed_total",
			Help: "Total number of markets processed",
		},
		[]string{"source", "status"}, // ok, skipped, failed
	)

	PricePointsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_price_points_inserted_total",
			Help: "Total number of new price points persisted",
		},
		[]string{"source"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_records_skipped_total",
			Help: "Total number of source records skipped",
		},
		[]string{"source", "reason"}, // malformed_market, malformed_sample, below_min_volume
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"source", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"source", "endpoint"},
	)

	RetrySleeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_retry_sleeps_total",
			Help: "Total number of backoff sleeps taken before retrying",
		},
		[]string{"source"},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"},
	)
)

// RecordRun records per-source run metrics.
func RecordRun(sourceName string, duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	RunsCompleted.WithLabelValues(sourceName, status).Inc()
	RunDuration.WithLabelValues(sourceName).Observe(duration.Seconds())
}

// RecordMarketProcessed records the outcome of one market's processing.
func RecordMarketProcessed(sourceName, status string) {
	MarketsProcessed.WithLabelValues(sourceName, status).Inc()
}

// RecordPricePointsInserted records newly persisted price points.
func RecordPricePointsInserted(sourceName string, count int) {
	if count > 0 {
		PricePointsInserted.WithLabelValues(sourceName).Add(float64(count))
	}
}

// RecordRecordSkipped records a source record dropped at the adapter
// boundary.
func RecordRecordSkipped(sourceName, reason string) {
	RecordsSkipped.WithLabelValues(sourceName, reason).Inc()
}

// RecordAPIRequest records API request metrics.
func RecordAPIRequest(sourceName, endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	APIRequests.WithLabelValues(sourceName, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(sourceName, endpoint).Observe(duration.Seconds())
}

// RecordRetrySleep records one backoff sleep.
func RecordRetrySleep(sourceName string) {
	RetrySleeps.WithLabelValues(sourceName).Inc()
}

// RecordDatabaseQuery records database query metrics.
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status.
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
