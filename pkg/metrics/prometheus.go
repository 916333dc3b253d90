// Package metrics provides Prometheus metrics for the burnrank ranking service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ranking core
	eventsRecorded     prometheus.Counter
	eventsDuplicate    prometheus.Counter
	eventsFailed       prometheus.Counter
	leaderboardWrites  *prometheus.CounterVec
	recordLatency      prometheus.Histogram
	queries            *prometheus.CounterVec
	migrations         *prometheus.CounterVec
	migratedPeriods    prometheus.Counter
	storeOps           *prometheus.CounterVec
	storeLatency       *prometheus.HistogramVec
	storeTrackedBoards prometheus.Gauge

	// Intake
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge
	workerLatency    prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "burnrank",
		subsystem:        "ranking",
		histogramBuckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.eventsRecorded = auto.NewCounter(m.counterOpts("events_recorded_total",
		"Exercise events whose calories reached every leaderboard"))
	m.eventsDuplicate = auto.NewCounter(m.counterOpts("events_duplicate_total",
		"Exercise events dropped because their event id was already seen"))
	m.eventsFailed = auto.NewCounter(m.counterOpts("events_failed_total",
		"Exercise events whose ranking update failed and was dropped"))
	m.leaderboardWrites = auto.NewCounterVec(m.counterOpts("leaderboard_writes_total",
		"Leaderboard increments by period and scope"), []string{"period", "scope"})
	m.recordLatency = auto.NewHistogram(m.histogramOpts("record_latency_milliseconds",
		"Latency of one batched ranking update", m.histogramBuckets))
	m.queries = auto.NewCounterVec(m.counterOpts("queries_total",
		"Ranking queries by kind and outcome"), []string{"kind", "status"})
	m.migrations = auto.NewCounterVec(m.counterOpts("category_migrations_total",
		"Category migrations by outcome"), []string{"status"})
	m.migratedPeriods = auto.NewCounter(m.counterOpts("category_migrated_periods_total",
		"Period leaderboards moved between categories"))
	m.storeOps = auto.NewCounterVec(m.counterOpts("store_operations_total",
		"Score store operations by operation and outcome"), []string{"op", "status"})
	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_latency_milliseconds",
		"Score store round-trip latency", m.histogramBuckets), []string{"op"})
	m.storeTrackedBoards = auto.NewGauge(m.gaugeOpts("store_leaderboards",
		"Leaderboards currently held by the in-process store"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size",
		"Exercise events waiting in the intake queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity",
		"Maximum number of queued exercise events"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio",
		"Queue size divided by capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total",
		"Exercise events accepted into the queue"))
	m.queueRejected = auto.NewCounterVec(m.counterOpts("queue_rejected_total",
		"Exercise events rejected by the queue"), []string{"reason"})
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count",
		"Workers draining the intake queue"))
	m.workerLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time a worker spends on one exercise event", m.histogramBuckets))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes",
		"Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count",
		"Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"Average GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100}))
}

// RecordEventRecorded counts an exercise event fully applied to the leaderboards.
func RecordEventRecorded() { globalManager.eventsRecorded.Inc() }

// RecordEventDuplicate counts an exercise event dropped by idempotency.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventFailed counts an exercise event lost to a store failure.
func RecordEventFailed() { globalManager.eventsFailed.Inc() }

// RecordLeaderboardWrite counts one increment against a period/scope board.
func RecordLeaderboardWrite(period, scope string) {
	globalManager.leaderboardWrites.WithLabelValues(period, scope).Inc()
}

// RecordRecordLatency observes the latency of one batched update.
func RecordRecordLatency(latencyMs float64) { globalManager.recordLatency.Observe(latencyMs) }

// RecordQuery counts a query. kind is "top" or "user"; status is "ok", "invalid" or "unavailable".
func RecordQuery(kind, status string) { globalManager.queries.WithLabelValues(kind, status).Inc() }

// RecordMigration counts a category migration by outcome: "moved", "noop", "partial", "failed".
func RecordMigration(status string) { globalManager.migrations.WithLabelValues(status).Inc() }

// RecordMigratedPeriods adds n moved period boards.
func RecordMigratedPeriods(n int) { globalManager.migratedPeriods.Add(float64(n)) }

// RecordStoreOperation counts one store call and observes its latency.
func RecordStoreOperation(op, status string, latencyMs float64) {
	globalManager.storeOps.WithLabelValues(op, status).Inc()
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateStoreLeaderboards sets how many leaderboards the in-process store holds.
func UpdateStoreLeaderboards(count int) { globalManager.storeTrackedBoards.Set(float64(count)) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue counts an accepted event.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueRejected counts an event the queue refused, by reason.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
