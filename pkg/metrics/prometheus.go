// Package metrics provides Prometheus metrics for the transferwire pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the pipeline.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Ingestion
	pollsTotal     *prometheus.CounterVec
	pollLatency    prometheus.Histogram
	fetchRetries   prometheus.Counter
	signalsFetched prometheus.Counter
	signalsSeen    prometheus.Counter

	// Classification
	signalsClassified   *prometheus.CounterVec
	classifierFailures  prometheus.Counter
	classifierLatency   prometheus.Histogram
	confidenceObserved  prometheus.Histogram

	// Deduplication
	storiesCreated   prometheus.Counter
	storyMerges      *prometheus.CounterVec
	dedupAmbiguous   prometheus.Counter
	mergeIdempotent  prometheus.Counter
	storiesTotal     prometheus.Gauge

	// Reliability
	outcomesRecorded *prometheus.CounterVec
	sourceScore      *prometheus.GaugeVec
	regionCoverage   *prometheus.GaugeVec

	// Gate
	gateDecisions *prometheus.CounterVec
	published     prometheus.Counter

	// Scheduler
	pollsSkipped *prometheus.CounterVec
	cycleLatency prometheus.Histogram

	// Queue / workers
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueRejected    *prometheus.CounterVec
	workerCount      prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByKind *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "transferwire",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	confidenceBuckets := prometheus.LinearBuckets(0.1, 0.1, 10)

	m.pollsTotal = m.counterVec("polls_total", "Source polls by result (ok, failed, cancelled)", "result")
	m.pollLatency = m.histogram("poll_latency_milliseconds", "Latency of a source poll including retries", m.histogramBuckets)
	m.fetchRetries = m.counter("fetch_retries_total", "Fetch attempts retried after a transient failure")
	m.signalsFetched = m.counter("signals_fetched_total", "Signals returned by ingestion adapters")
	m.signalsSeen = m.counter("signals_duplicate_total", "Signals dropped because their id was already ingested")

	m.signalsClassified = m.counterVec("signals_classified_total", "Classified signals by verdict (relevant, irrelevant, low_confidence, failed)", "verdict")
	m.classifierFailures = m.counter("classifier_failures_total", "Classifier errors treated as not relevant")
	m.classifierLatency = m.histogram("classifier_latency_milliseconds", "Classifier invocation latency", m.histogramBuckets)
	m.confidenceObserved = m.histogram("classifier_confidence", "Distribution of classifier confidence", confidenceBuckets)

	m.storiesCreated = m.counter("stories_created_total", "Stories created by the matcher")
	m.storyMerges = m.counterVec("story_merges_total", "Story merges by match type (exact, fuzzy)", "match")
	m.dedupAmbiguous = m.counter("dedup_ambiguous_total", "Fuzzy matches resolved as new stories for review")
	m.mergeIdempotent = m.counter("merge_idempotent_total", "Merges skipped because the signal was already merged")
	m.storiesTotal = m.gauge("stories", "Number of stories in the store")

	m.outcomesRecorded = m.counterVec("outcomes_recorded_total", "Outcomes by result (confirmed, false_positive)", "result")
	m.sourceScore = m.gaugeVec("source_reliability_score", "Decayed reliability score per source", "source")
	m.regionCoverage = m.gaugeVec("region_coverage_quality", "Coverage quality per region", "region")

	m.gateDecisions = m.counterVec("gate_decisions_total", "Publication gate decisions by action", "action")
	m.published = m.counter("stories_published_total", "Stories transitioned to published")

	m.pollsSkipped = m.counterVec("polls_skipped_total", "Polls skipped by the scheduler by reason (not_due, probability)", "reason")
	m.cycleLatency = m.histogram("cycle_latency_milliseconds", "End-to-end ingestion cycle latency", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Current size of the poll job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum poll job queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueRejected = m.counterVec("queue_rejected_total", "Poll jobs rejected by the queue by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Number of poll workers")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByKind = m.counterVec("errors_total", "Pipeline errors by kind and component", "kind", "component")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordPoll counts a poll by result.
func RecordPoll(result string, latencyMs float64) {
	globalManager.pollsTotal.WithLabelValues(result).Inc()
	globalManager.pollLatency.Observe(latencyMs)
}

// RecordFetchRetry counts a retried fetch attempt.
func RecordFetchRetry() { globalManager.fetchRetries.Inc() }

// RecordSignalsFetched adds n fetched signals.
func RecordSignalsFetched(n int) { globalManager.signalsFetched.Add(float64(n)) }

// RecordSignalDuplicate counts a signal dropped by the idempotency filter.
func RecordSignalDuplicate() { globalManager.signalsSeen.Inc() }

// RecordClassification counts a classifier verdict and observes its confidence.
func RecordClassification(verdict string, confidence, latencyMs float64) {
	globalManager.signalsClassified.WithLabelValues(verdict).Inc()
	globalManager.confidenceObserved.Observe(confidence)
	globalManager.classifierLatency.Observe(latencyMs)
}

// RecordClassifierFailure counts a failed classification.
func RecordClassifierFailure() { globalManager.classifierFailures.Inc() }

// RecordStoryCreated counts a new story.
func RecordStoryCreated() { globalManager.storiesCreated.Inc() }

// RecordStoryMerge counts a merge by match type.
func RecordStoryMerge(match string) { globalManager.storyMerges.WithLabelValues(match).Inc() }

// RecordDedupAmbiguous counts an ambiguous fuzzy match.
func RecordDedupAmbiguous() { globalManager.dedupAmbiguous.Inc() }

// RecordMergeIdempotent counts a merge that was a no-op.
func RecordMergeIdempotent() { globalManager.mergeIdempotent.Inc() }

// UpdateStoryCount sets the number of stored stories.
func UpdateStoryCount(n int) { globalManager.storiesTotal.Set(float64(n)) }

// RecordOutcome counts a reconciled outcome.
func RecordOutcome(confirmed bool) {
	result := "false_positive"
	if confirmed {
		result = "confirmed"
	}
	globalManager.outcomesRecorded.WithLabelValues(result).Inc()
}

// UpdateSourceScore sets the decayed score of a source.
func UpdateSourceScore(sourceID string, score float64) {
	globalManager.sourceScore.WithLabelValues(sourceID).Set(score)
}

// UpdateRegionCoverage sets the coverage quality for a region.
func UpdateRegionCoverage(region string, coverage float64) {
	globalManager.regionCoverage.WithLabelValues(region).Set(coverage)
}

// RecordGateDecision counts a gate decision by action.
func RecordGateDecision(action string) { globalManager.gateDecisions.WithLabelValues(action).Inc() }

// RecordPublished counts a story reaching published.
func RecordPublished() { globalManager.published.Inc() }

// RecordPollSkipped counts a scheduler skip by reason.
func RecordPollSkipped(reason string) { globalManager.pollsSkipped.WithLabelValues(reason).Inc() }

// RecordCycleLatency observes a full ingestion cycle.
func RecordCycleLatency(latencyMs float64) { globalManager.cycleLatency.Observe(latencyMs) }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueRejected counts a rejected enqueue by reason.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordError counts an error by kind and component.
func RecordError(kind, component string) {
	if kind == "" {
		kind = "unknown"
	}
	globalManager.errorsByKind.WithLabelValues(kind, component).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
