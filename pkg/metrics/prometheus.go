// Package metrics provides Prometheus metrics for the LostFits service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector the service exports.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	killmailsIngested  prometheus.Counter
	killmailsDuplicate prometheus.Counter
	killmailsMalformed prometheus.Counter
	killmailsFailed    prometheus.Counter
	feedFetchErrors    prometheus.Counter
	feedEmptyPolls     prometheus.Counter
	pollTickDuration   prometheus.Histogram
	pollTicksSkipped   prometheus.Counter
	lastIngestUnix     prometheus.Gauge
	dedupeSize         prometheus.Gauge

	// Aggregates
	aggregateIncrements prometheus.Counter
	aggregateRebuilds   prometheus.Counter
	aggregateDrift      prometheus.Gauge
	locationBackfills   prometheus.Counter

	// Resolver and catalog
	resolverLookups   *prometheus.CounterVec
	resolverDropped   prometheus.Counter
	catalogRequests   *prometheus.CounterVec
	catalogLatency    prometheus.Histogram
	rateLimiterWaitMs prometheus.Histogram

	// Resolution queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Resolution workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Jobs
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobProgress  *prometheus.GaugeVec

	// Storage and cache
	repositoryQueryLatency prometheus.Histogram
	cacheLookups           *prometheus.CounterVec
	killmailsStored        prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the Record*/Update* helpers

// customRegistry keeps default Go collectors out of /metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // shared registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "lostfits",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix != "" {
		return m.metricPrefix + "_" + n
	}
	return n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.killmailsIngested = auto.NewCounter(m.counterOpts("killmails_ingested_total", "Killmails persisted and aggregated"))
	m.killmailsDuplicate = auto.NewCounter(m.counterOpts("killmails_duplicate_total", "Killmails skipped because their ID was already stored"))
	m.killmailsMalformed = auto.NewCounter(m.counterOpts("killmails_malformed_total", "Feed payloads that could not be parsed"))
	m.killmailsFailed = auto.NewCounter(m.counterOpts("killmails_failed_total", "Killmails that failed to persist"))
	m.feedFetchErrors = auto.NewCounter(m.counterOpts("feed_fetch_errors_total", "Feed fetches that failed after retries"))
	m.feedEmptyPolls = auto.NewCounter(m.counterOpts("feed_empty_polls_total", "Feed polls that returned no package"))
	m.pollTickDuration = auto.NewHistogram(m.histogramOpts("poll_tick_duration_milliseconds", "Duration of one poller tick"))
	m.pollTicksSkipped = auto.NewCounter(m.counterOpts("poll_ticks_skipped_total", "Ticks skipped because the previous tick was still running"))
	m.lastIngestUnix = auto.NewGauge(m.gaugeOpts("last_ingest_unix", "Unix time of the last ingested killmail"))
	m.dedupeSize = auto.NewGauge(m.gaugeOpts("dedupe_entries", "Killmail IDs held by the in-memory dedupe window"))

	m.aggregateIncrements = auto.NewCounter(m.counterOpts("aggregate_increments_total", "Aggregate row sets incremented"))
	m.aggregateRebuilds = auto.NewCounter(m.counterOpts("aggregate_rebuilds_total", "Days rebuilt from raw killmails"))
	m.aggregateDrift = auto.NewGauge(m.gaugeOpts("aggregate_drift_killmails", "Raw killmails missing from daily aggregates in the last check"))
	m.locationBackfills = auto.NewCounter(m.counterOpts("location_backfills_total", "Location aggregate rows backfilled after a system resolved"))

	m.resolverLookups = auto.NewCounterVec(m.counterOpts("resolver_lookups_total", "Reference lookups by kind and outcome"), []string{"kind", "result"})
	m.resolverDropped = auto.NewCounter(m.counterOpts("resolver_dropped_total", "Resolution requests dropped because the queue was full"))
	m.catalogRequests = auto.NewCounterVec(m.counterOpts("catalog_requests_total", "Outbound catalog requests by resource and status"), []string{"resource", "status"})
	m.catalogLatency = auto.NewHistogram(m.histogramOpts("catalog_latency_milliseconds", "Outbound catalog request latency"))
	m.rateLimiterWaitMs = auto.NewHistogram(m.histogramOpts("rate_limiter_wait_milliseconds", "Time spent waiting on the catalog rate limiter"))

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Pending resolution requests"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Resolution queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Resolution queue size / capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Resolution requests enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Resolution requests dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Resolution requests rejected by the queue"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogramOpts("queue_processing_latency_milliseconds", "Enqueue latency"))

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Running resolution workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds", "Time to resolve one request"))
	m.workerErrorRate = auto.NewCounter(m.counterOpts("worker_errors_total", "Resolution requests that failed"))

	m.jobsStarted = auto.NewCounterVec(m.counterOpts("jobs_started_total", "Background jobs started by kind"), []string{"kind"})
	m.jobsFinished = auto.NewCounterVec(m.counterOpts("jobs_finished_total", "Background jobs finished by kind and status"), []string{"kind", "status"})
	m.jobProgress = auto.NewGaugeVec(m.gaugeOpts("job_progress_items", "Items processed by the running job of each kind"), []string{"kind"})

	m.repositoryQueryLatency = auto.NewHistogram(m.histogramOpts("repository_query_latency_milliseconds", "Read query latency"))
	m.cacheLookups = auto.NewCounterVec(m.counterOpts("cache_lookups_total", "Response cache lookups by backend and result"), []string{"backend", "result"})
	m.killmailsStored = auto.NewGauge(m.gaugeOpts("killmails_stored", "Raw killmails in the database"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration"), []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total", "Errors by component"), []string{"component", "error_type"})
	m.errorRateByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total", "Errors by type and severity"), []string{"error_type", "severity"})
	m.errorRateByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total", "Errors by endpoint"), []string{"endpoint", "method", "error_type"})
	m.errorLatency = auto.NewHistogramVec(m.histogramOpts("error_latency_milliseconds", "Latency of operations that ended in an error"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	gc := m.histogramOpts("system_gc_pause_time_milliseconds", "Average GC pause time")
	gc.Buckets = []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}
	m.systemGCPauseTime = auto.NewHistogram(gc)
}

// Ingestion.

// RecordKillmailIngested counts a persisted killmail and stamps the ingest time.
func RecordKillmailIngested() {
	globalManager.killmailsIngested.Inc()
	globalManager.lastIngestUnix.Set(float64(time.Now().Unix()))
}

// RecordKillmailDuplicate counts a killmail skipped by dedup.
func RecordKillmailDuplicate() { globalManager.killmailsDuplicate.Inc() }

// RecordKillmailMalformed counts an unparseable feed payload.
func RecordKillmailMalformed() { globalManager.killmailsMalformed.Inc() }

// RecordKillmailFailed counts a killmail that could not be stored.
func RecordKillmailFailed() { globalManager.killmailsFailed.Inc() }

// RecordFeedFetchError counts a failed feed fetch.
func RecordFeedFetchError() { globalManager.feedFetchErrors.Inc() }

// RecordFeedEmptyPoll counts a poll that returned nothing.
func RecordFeedEmptyPoll() { globalManager.feedEmptyPolls.Inc() }

// RecordPollTickDuration observes a tick duration in milliseconds.
func RecordPollTickDuration(ms float64) { globalManager.pollTickDuration.Observe(ms) }

// RecordPollTickSkipped counts a tick skipped because one was still running.
func RecordPollTickSkipped() { globalManager.pollTicksSkipped.Inc() }

// UpdateDedupeSize sets the in-memory dedupe window size.
func UpdateDedupeSize(n int64) { globalManager.dedupeSize.Set(float64(n)) }

// Aggregates.

// RecordAggregateIncrement counts one aggregate row set increment.
func RecordAggregateIncrement() { globalManager.aggregateIncrements.Inc() }

// RecordAggregateRebuild counts a rebuilt day.
func RecordAggregateRebuild() { globalManager.aggregateRebuilds.Inc() }

// UpdateAggregateDrift sets the number of raw killmails missing from aggregates.
func UpdateAggregateDrift(n int64) { globalManager.aggregateDrift.Set(float64(n)) }

// RecordLocationBackfill counts backfilled location rows.
func RecordLocationBackfill(rows int64) { globalManager.locationBackfills.Add(float64(rows)) }

// Resolver and catalog.

// RecordResolverLookup counts a lookup; result is one of hit, miss, fetched, not_found, error.
func RecordResolverLookup(kind, result string) {
	globalManager.resolverLookups.WithLabelValues(kind, result).Inc()
}

// RecordResolverDropped counts a resolution request dropped on a full queue.
func RecordResolverDropped() { globalManager.resolverDropped.Inc() }

// RecordCatalogRequest counts an outbound catalog call and observes its latency.
func RecordCatalogRequest(resource, status string, latencyMs float64) {
	globalManager.catalogRequests.WithLabelValues(resource, status).Inc()
	globalManager.catalogLatency.Observe(latencyMs)
}

// RecordRateLimiterWait observes time spent blocked on the limiter.
func RecordRateLimiterWait(ms float64) { globalManager.rateLimiterWaitMs.Observe(ms) }

// Resolution queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Workers.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActiveCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records how long one request took.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrorRate.Inc() }

// Jobs.

// RecordJobStarted counts a started job.
func RecordJobStarted(kind string) { globalManager.jobsStarted.WithLabelValues(kind).Inc() }

// RecordJobFinished counts a finished job by terminal status.
func RecordJobFinished(kind, status string) {
	globalManager.jobsFinished.WithLabelValues(kind, status).Inc()
}

// UpdateJobProgress sets processed items for the running job of kind.
func UpdateJobProgress(kind string, processed int64) {
	globalManager.jobProgress.WithLabelValues(kind).Set(float64(processed))
}

// Storage and cache.

// RecordRepositoryQueryLatency records a read query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordCacheLookup counts a response cache lookup; result is hit or miss.
func RecordCacheLookup(backend, result string) {
	globalManager.cacheLookups.WithLabelValues(backend, result).Inc()
}

// UpdateKillmailsStored sets the stored killmail count.
func UpdateKillmailsStored(n int64) { globalManager.killmailsStored.Set(float64(n)) }

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

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

// System.

// UpdateSystemMemoryUsage sets the heap allocation in bytes.
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
