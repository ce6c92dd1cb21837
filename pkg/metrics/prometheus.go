// Package metrics provides Prometheus metrics for the fanpulse service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector used by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	metricPrefix     string
	registry         prometheus.Registerer

	// Ledger
	supportsRecorded   *prometheus.CounterVec
	supportGross       prometheus.Counter
	tokensAwarded      prometheus.Counter
	ledgerConflicts    prometheus.Counter
	ledgerRejections   *prometheus.CounterVec
	ledgerCommitMillis prometheus.Histogram
	idempotentReplays  prometheus.Counter

	// Minting
	reactionsMinted   *prometheus.CounterVec
	mintDuplicates    prometheus.Counter
	metadataPublishes *prometheus.CounterVec
	sentimentFallback prometheus.Counter

	// Achievements
	grantsTotal     *prometheus.CounterVec
	grantDuplicates *prometheus.CounterVec
	ruleErrors      *prometheus.CounterVec

	// Settlement
	dispatchAttempts    *prometheus.CounterVec
	dispatchTransitions *prometheus.CounterVec
	dispatchLatency     *prometheus.HistogramVec
	feeEstimates        *prometheus.HistogramVec
	sweeperResumed      prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            *prometheus.CounterVec

	// Repository
	repositoryRecords *prometheus.GaugeVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fanpulse",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		constLabels:      prometheus.Labels{},
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

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.supportsRecorded = m.counterVec("supports_recorded_total", "Committed support transactions by reaction tier", "tier")
	m.supportGross = m.counter("support_gross_amount_total", "Sum of gross support amounts in currency units")
	m.tokensAwarded = m.counter("reward_tokens_awarded_total", "Sum of reward tokens awarded to fans")
	m.ledgerConflicts = m.counter("ledger_conflicts_total", "Optimistic concurrency conflicts retried by the ledger")
	m.ledgerRejections = m.counterVec("ledger_rejections_total", "Support requests rejected by validation", "reason")
	m.ledgerCommitMillis = m.histogram("ledger_commit_latency_milliseconds", "Latency of ledger commits", m.histogramBuckets)
	m.idempotentReplays = m.counter("support_replays_total", "Support requests answered from the idempotency cache")

	m.reactionsMinted = m.counterVec("reactions_minted_total", "Reaction collectibles minted by rarity", "rarity")
	m.mintDuplicates = m.counter("reaction_mint_duplicates_total", "Duplicate mint attempts collapsed to the existing record")
	m.metadataPublishes = m.counterVec("reaction_metadata_publishes_total", "Collectible metadata uploads by outcome", "outcome")
	m.sentimentFallback = m.counter("sentiment_fallbacks_total", "Sentiment calls that degraded to the neutral default")

	m.grantsTotal = m.counterVec("achievement_grants_total", "Achievements granted by rule", "rule")
	m.grantDuplicates = m.counterVec("achievement_grant_duplicates_total", "Grant attempts that found an existing grant", "rule")
	m.ruleErrors = m.counterVec("achievement_rule_errors_total", "Rule evaluations that failed and were skipped", "rule")

	m.dispatchAttempts = m.counterVec("dispatch_attempts_total", "Reward dispatch attempts by chain and outcome", "chain", "outcome")
	m.dispatchTransitions = m.counterVec("dispatch_transitions_total", "Dispatch task state transitions", "chain", "status")
	m.dispatchLatency = m.histogramVec("dispatch_latency_milliseconds", "Latency of a single dispatch attempt", m.histogramBuckets, "chain")
	m.feeEstimates = m.histogramVec("dispatch_fee_estimate_native", "Estimated native fee per dispatch",
		[]float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10}, "chain")
	m.sweeperResumed = m.counter("dispatch_sweeper_resumed_total", "Dispatch tasks resumed by the sweeper")

	m.queueSize = m.gauge("queue_size", "Current size of the post-commit job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the post-commit job queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueueRate = m.counter("queue_enqueued_total", "Jobs enqueued")
	m.queueDequeueRate = m.counter("queue_dequeued_total", "Jobs dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Jobs refused by the queue", "reason")

	m.workerCount = m.gauge("worker_count", "Number of post-commit workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Latency of one post-commit job", m.histogramBuckets)
	m.workerErrors = m.counterVec("worker_errors_total", "Post-commit job failures by stage", "stage")

	m.repositoryRecords = m.gaugeVec("repository_records", "Rows held by the store by kind", "kind")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", m.histogramBuckets,
		"endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ledger.

// RecordSupport counts a committed support and its amounts.
func RecordSupport(tier string, gross, tokens float64) {
	globalManager.supportsRecorded.WithLabelValues(tier).Inc()
	globalManager.supportGross.Add(gross)
	globalManager.tokensAwarded.Add(tokens)
}

// RecordLedgerConflict counts a CAS conflict the ledger retried.
func RecordLedgerConflict() { globalManager.ledgerConflicts.Inc() }

// RecordLedgerRejection counts a validation rejection.
func RecordLedgerRejection(reason string) {
	globalManager.ledgerRejections.WithLabelValues(reason).Inc()
}

// RecordLedgerCommitLatency observes commit latency in milliseconds.
func RecordLedgerCommitLatency(ms float64) { globalManager.ledgerCommitMillis.Observe(ms) }

// RecordSupportReplay counts a request answered from the idempotency cache.
func RecordSupportReplay() { globalManager.idempotentReplays.Inc() }

// Minting.

// RecordReactionMinted counts a minted reaction.
func RecordReactionMinted(rarity string) { globalManager.reactionsMinted.WithLabelValues(rarity).Inc() }

// RecordMintDuplicate counts a duplicate mint.
func RecordMintDuplicate() { globalManager.mintDuplicates.Inc() }

// RecordMetadataPublish counts a metadata upload; outcome is "ok" or "error".
func RecordMetadataPublish(outcome string) {
	globalManager.metadataPublishes.WithLabelValues(outcome).Inc()
}

// RecordSentimentFallback counts a degraded sentiment call.
func RecordSentimentFallback() { globalManager.sentimentFallback.Inc() }

// Achievements.

// RecordGrant counts a new grant.
func RecordGrant(ruleID string) { globalManager.grantsTotal.WithLabelValues(ruleID).Inc() }

// RecordGrantDuplicate counts a grant attempt that lost to an existing grant.
func RecordGrantDuplicate(ruleID string) { globalManager.grantDuplicates.WithLabelValues(ruleID).Inc() }

// RecordRuleError counts a skipped rule evaluation.
func RecordRuleError(ruleID string) { globalManager.ruleErrors.WithLabelValues(ruleID).Inc() }

// Settlement.

// RecordDispatchAttempt counts one dispatch attempt and observes its latency.
func RecordDispatchAttempt(chain, outcome string, latencyMs float64) {
	globalManager.dispatchAttempts.WithLabelValues(chain, outcome).Inc()
	globalManager.dispatchLatency.WithLabelValues(chain).Observe(latencyMs)
}

// RecordDispatchTransition counts a task entering status.
func RecordDispatchTransition(chain, status string) {
	globalManager.dispatchTransitions.WithLabelValues(chain, status).Inc()
}

// RecordFeeEstimate observes an estimated native fee.
func RecordFeeEstimate(chain string, fee float64) {
	globalManager.feeEstimates.WithLabelValues(chain).Observe(fee)
}

// RecordSweeperResumed counts tasks resumed by one sweep.
func RecordSweeperResumed(n int) { globalManager.sweeperResumed.Add(float64(n)) }

// Queue.

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

// RecordQueueEnqueueError counts a refused enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// Workers.

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed job stage.
func RecordWorkerError(stage string) { globalManager.workerErrors.WithLabelValues(stage).Inc() }

// HTTP.

// UpdateRepositoryRecords sets the number of rows of one kind held by the store.
func UpdateRepositoryRecords(kind string, count int) {
	globalManager.repositoryRecords.WithLabelValues(kind).Set(float64(count))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
