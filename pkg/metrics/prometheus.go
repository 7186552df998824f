// Package metrics provides Prometheus metrics for the team-run allocation service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Allocation metrics
	signups            *prometheus.CounterVec
	cancellations      prometheus.Counter
	pins               *prometheus.CounterVec
	rebalances         prometheus.Counter
	matchingLatency    prometheus.Histogram
	commitConflicts    prometheus.Counter
	operationErrors    *prometheus.CounterVec
	operationLatency   *prometheus.HistogramVec
	runsTotal          prometheus.Gauge
	seatedPerRun       *prometheus.GaugeVec
	waitlistPerRun     *prometheus.GaugeVec
	boardEventsSent    prometheus.Counter
	boardEventsDropped prometheus.Counter
	boardEventsDup     prometheus.Counter

	// Repository metrics
	repositoryRunsTotal     prometheus.Gauge
	repositoryRecordsTotal  prometheus.Gauge
	repositoryCommitLatency prometheus.Histogram
	repositoryLoadLatency   prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue metrics
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker metrics
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "teamrun",
		subsystem:        "allocation",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.signups = auto.NewCounterVec(m.counterOpts("signups_total", "Signup requests by outcome"), []string{"outcome"})
	m.cancellations = auto.NewCounter(m.counterOpts("cancellations_total", "Signups cancelled"))
	m.pins = auto.NewCounterVec(m.counterOpts("pins_total", "Leader pin and unpin actions"), []string{"action"})
	m.rebalances = auto.NewCounter(m.counterOpts("rebalances_total", "Full re-matches requested by leaders"))
	m.matchingLatency = auto.NewHistogram(m.histogramOpts("matching_latency_milliseconds", "Time spent computing a matching"))
	m.commitConflicts = auto.NewCounter(m.counterOpts("commit_conflicts_total", "Commits rejected because the run version moved"))
	m.operationErrors = auto.NewCounterVec(m.counterOpts("operation_errors_total", "Rejected operations by kind"), []string{"operation", "kind"})
	m.operationLatency = auto.NewHistogramVec(m.histogramOpts("operation_latency_milliseconds", "End to end latency of service operations"), []string{"operation"})
	m.runsTotal = auto.NewGauge(m.gaugeOpts("runs_total", "Runs known to the service"))
	m.seatedPerRun = auto.NewGaugeVec(m.gaugeOpts("run_seated", "Occupied slots per run"), []string{"run_id"})
	m.waitlistPerRun = auto.NewGaugeVec(m.gaugeOpts("run_waitlist", "Waitlist length per run"), []string{"run_id"})
	m.boardEventsSent = auto.NewCounter(m.counterOpts("board_events_delivered_total", "Board change events delivered to the sink"))
	m.boardEventsDropped = auto.NewCounter(m.counterOpts("board_events_dropped_total", "Board change events dropped on backpressure"))
	m.boardEventsDup = auto.NewCounter(m.counterOpts("board_events_duplicate_total", "Board change events skipped as already delivered"))

	m.repositoryRunsTotal = auto.NewGauge(m.gaugeOpts("repository_runs_total", "Runs held by the repository"))
	m.repositoryRecordsTotal = auto.NewGauge(m.gaugeOpts("repository_records_total", "Signup records held by the repository, cancelled ones included"))
	m.repositoryCommitLatency = auto.NewHistogram(m.histogramOpts("repository_commit_latency_milliseconds", "Repository commit latency"))
	m.repositoryLoadLatency = auto.NewHistogram(m.histogramOpts("repository_load_latency_milliseconds", "Repository load latency"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration"),
		[]string{"endpoint", "method", "status_code"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Board events waiting for delivery"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Events enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Events dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Enqueue attempts rejected"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("queue_processing_latency_milliseconds", "Time an event spent queued"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Configured feed workers"))
	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Workers delivering an event"))
	m.workerIdleCount = auto.NewGauge(m.gaugeOpts("worker_idle_count", "Workers waiting for an event"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Sink delivery latency"))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Sink deliveries that failed"))

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component"),
		[]string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total", "Errors by type"),
		[]string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "Errors by endpoint"),
		[]string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds", "Latency of operations that resulted in errors"),
		[]string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap memory in use"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	gc := m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds")
	gc.Buckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	m.systemGCPauseTime = auto.NewHistogram(gc)
}

// Allocation metrics.

// RecordSignup counts a signup by its outcome status.
func RecordSignup(outcome string) {
	globalManager.signups.WithLabelValues(outcome).Inc()
}

// RecordCancellation counts a cancelled signup.
func RecordCancellation() {
	globalManager.cancellations.Inc()
}

// RecordPin counts a pin or unpin action.
func RecordPin(action string) {
	globalManager.pins.WithLabelValues(action).Inc()
}

// RecordRebalance counts a rebalance.
func RecordRebalance() {
	globalManager.rebalances.Inc()
}

// RecordMatchingLatency records the time spent in one transition, matching included.
func RecordMatchingLatency(latencyMs float64) {
	globalManager.matchingLatency.Observe(latencyMs)
}

// RecordCommitConflict counts a lost compare-and-swap.
func RecordCommitConflict() {
	globalManager.commitConflicts.Inc()
}

// RecordOperationError counts a rejected operation by its error code.
func RecordOperationError(operation, kind string) {
	globalManager.operationErrors.WithLabelValues(operation, kind).Inc()
}

// RecordOperationLatency records end to end latency of a service operation.
func RecordOperationLatency(operation string, latencyMs float64) {
	globalManager.operationLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateRunsTotal sets the number of runs the service has seen.
func UpdateRunsTotal(count int) {
	globalManager.runsTotal.Set(float64(count))
}

// UpdateRunOccupancy sets the seated and waitlist gauges of one run.
func UpdateRunOccupancy(runID string, seated, waitlisted int) {
	globalManager.seatedPerRun.WithLabelValues(runID).Set(float64(seated))
	globalManager.waitlistPerRun.WithLabelValues(runID).Set(float64(waitlisted))
}

// RecordBoardEventDelivered counts an event handed to the sink.
func RecordBoardEventDelivered() {
	globalManager.boardEventsSent.Inc()
}

// RecordBoardEventDropped counts an event lost to backpressure.
func RecordBoardEventDropped() {
	globalManager.boardEventsDropped.Inc()
}

// RecordBoardEventDuplicate counts an event skipped by deduplication.
func RecordBoardEventDuplicate() {
	globalManager.boardEventsDup.Inc()
}

// Repository metrics.

// UpdateRepositoryRunsTotal sets the number of stored runs.
func UpdateRepositoryRunsTotal(count int) {
	globalManager.repositoryRunsTotal.Set(float64(count))
}

// UpdateRepositoryRecordsTotal sets the number of stored signup records.
func UpdateRepositoryRecordsTotal(count int) {
	globalManager.repositoryRecordsTotal.Set(float64(count))
}

// RecordRepositoryCommitLatency records commit latency.
func RecordRepositoryCommitLatency(latencyMs float64) {
	globalManager.repositoryCommitLatency.Observe(latencyMs)
}

// RecordRepositoryLoadLatency records load latency.
func RecordRepositoryLoadLatency(latencyMs float64) {
	globalManager.repositoryLoadLatency.Observe(latencyMs)
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long an event waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records sink delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System metrics.

// UpdateSystemMemoryUsage sets the heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// RegisterCollector adds an extra collector, such as database pool stats, to
// the service registry.
func RegisterCollector(c prometheus.Collector) error {
	if err := customRegistry.Register(c); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}
	return nil
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
