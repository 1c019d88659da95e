// Package observability provides Prometheus metrics for monitoring the
// refresh pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Refresh metrics
	RefreshRunsTotal   *prometheus.CounterVec
	RefreshDuration    *prometheus.HistogramVec
	RefreshRowsUpseted *prometheus.CounterVec
	RefreshSkippedTotal *prometheus.CounterVec

	// Scheduler metrics
	SchedulerRunsTotal    *prometheus.CounterVec
	SchedulerErrorsTotal  *prometheus.CounterVec

	// Analytics backend metrics
	AnalyticsCallLatency *prometheus.HistogramVec
	AnalyticsCallErrors  *prometheus.CounterVec
	AnalyticsRetries     *prometheus.CounterVec

	// Storage metrics
	StorageQueryDuration *prometheus.HistogramVec
	StorageQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRefresh *prometheus.GaugeVec
	DegradedMode          prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dexgrid"
	}

	return &Metrics{
		RefreshRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of refresh runs by refresher and status",
		}, []string{"refresher", "status"}),
		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Refresh run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"refresher"}),
		RefreshRowsUpseted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "rows_upserted_total",
			Help:      "Total number of rows upserted by grid",
		}, []string{"grid"}),
		RefreshSkippedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "skipped_total",
			Help:      "Total number of refresh triggers skipped because a run was already in flight",
		}, []string{"refresher"}),

		SchedulerRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of scheduled task invocations",
		}, []string{"task"}),
		SchedulerErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "errors_total",
			Help:      "Total number of scheduled task errors",
		}, []string{"task"}),

		AnalyticsCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "call_latency_seconds",
			Help:      "Analytics backend call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		AnalyticsCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "call_errors_total",
			Help:      "Total number of analytics backend call errors by class",
		}, []string{"query", "class"}),
		AnalyticsRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "retries_total",
			Help:      "Total number of transient-error retries",
		}, []string{"query"}),

		StorageQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_duration_seconds",
			Help:      "Storage query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
		StorageQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "query_errors_total",
			Help:      "Total number of storage query errors",
		}, []string{"store", "operation"}),

		LastSuccessfulRefresh: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_refresh_timestamp",
			Help:      "Unix timestamp of the last successful refresh, by refresher",
		}, []string{"refresher"}),
		DegradedMode: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "degraded_mode",
			Help:      "1 when the process is running against the in-memory fallback store, 0 otherwise",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRefreshRun records a completed refresh run.
func RecordRefreshRun(refresher, status string, durationSeconds float64) {
	DefaultMetrics.RefreshRunsTotal.WithLabelValues(refresher, status).Inc()
	DefaultMetrics.RefreshDuration.WithLabelValues(refresher).Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulRefresh.WithLabelValues(refresher).SetToCurrentTime()
	}
}

// RecordRefreshSkipped records a refresh trigger dropped by single-flight.
func RecordRefreshSkipped(refresher string) {
	DefaultMetrics.RefreshSkippedTotal.WithLabelValues(refresher).Inc()
}

// RecordRowsUpserted records the size of an Upsert batch.
func RecordRowsUpserted(grid string, count int) {
	DefaultMetrics.RefreshRowsUpseted.WithLabelValues(grid).Add(float64(count))
}

// RecordSchedulerRun records a scheduled task invocation, success or error.
func RecordSchedulerRun(task string, err error) {
	DefaultMetrics.SchedulerRunsTotal.WithLabelValues(task).Inc()
	if err != nil {
		DefaultMetrics.SchedulerErrorsTotal.WithLabelValues(task).Inc()
	}
}

// RecordAnalyticsCall records an analytics backend call's latency and,
// on failure, its error class (e.g. "quota_exceeded", "query_timeout", "transient_error").
func RecordAnalyticsCall(query string, seconds float64, errClass string) {
	DefaultMetrics.AnalyticsCallLatency.WithLabelValues(query).Observe(seconds)
	if errClass != "" {
		DefaultMetrics.AnalyticsCallErrors.WithLabelValues(query, errClass).Inc()
	}
}

// RecordAnalyticsRetry records a transient-error retry.
func RecordAnalyticsRetry(query string) {
	DefaultMetrics.AnalyticsRetries.WithLabelValues(query).Inc()
}

// RecordStorageQuery records a storage operation's latency and, on failure,
// increments the error counter.
func RecordStorageQuery(store, operation string, seconds float64, err error) {
	DefaultMetrics.StorageQueryDuration.WithLabelValues(store, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StorageQueryErrors.WithLabelValues(store, operation).Inc()
	}
}

// SetDegradedMode updates the degraded-mode gauge.
func SetDegradedMode(degraded bool) {
	if degraded {
		DefaultMetrics.DegradedMode.Set(1)
	} else {
		DefaultMetrics.DegradedMode.Set(0)
	}
}
