package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics records HTTP activity on the public API surface.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics

	sponsorMetricsOnce sync.Once
	sponsorRegistry    *SponsorMetrics

	indexerMetricsOnce sync.Once
	indexerRegistry    *IndexerMetrics

	reconcileMetricsOnce sync.Once
	reconcileRegistry    *ReconcileMetrics

	jobsMetricsOnce sync.Once
	jobsRegistry    *JobsMetrics
)

// Gateway returns the lazily-initialised registry used to record API
// request activity.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zaps",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *GatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for a route. Reasons
// should be stable strings such as "rate_limit" so dashboards stay
// consistent.
func (m *GatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}

// SponsorMetrics captures fee sponsorship activity.
type SponsorMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	fees       prometheus.Histogram
}

// Sponsor exposes the metrics registry for the sponsorship engine.
func Sponsor() *SponsorMetrics {
	sponsorMetricsOnce.Do(func() {
		sponsorRegistry = &SponsorMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "sponsor",
				Name:      "operations_total",
				Help:      "Count of sponsorship operations segmented by step and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "zaps",
				Subsystem: "sponsor",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for sponsorship steps.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			fees: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "zaps",
				Subsystem: "sponsor",
				Name:      "resource_fee",
				Help:      "Distribution of minimum resource fees charged to the operator account.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
			}),
		}
		prometheus.MustRegister(
			sponsorRegistry.operations,
			sponsorRegistry.latency,
			sponsorRegistry.fees,
		)
	})
	return sponsorRegistry
}

// Observe records a sponsorship step with its duration and outcome.
func (m *SponsorMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordResourceFee tracks the resource fee the operator fronted.
func (m *SponsorMetrics) RecordResourceFee(fee uint64) {
	if m == nil {
		return
	}
	m.fees.Observe(float64(fee))
}

// OperationsVec exposes the step/outcome counter for assertions.
func (m *SponsorMetrics) OperationsVec() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.operations
}

// IndexerMetrics tracks the event ingestion loop.
type IndexerMetrics struct {
	events           *prometheus.CounterVec
	dispatchFailures prometheus.Counter
	pollFailures     prometheus.Counter
	duplicates       prometheus.Counter
	cursor           prometheus.Gauge
}

// Indexer exposes the metrics registry for the settlement watcher.
func Indexer() *IndexerMetrics {
	indexerMetricsOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "indexer",
				Name:      "events_total",
				Help:      "Count of ingested settlement events segmented by kind.",
			}, []string{"kind"}),
			dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "indexer",
				Name:      "dispatch_failures_total",
				Help:      "Count of events whose reconciliation dispatch returned an error.",
			}),
			pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "indexer",
				Name:      "poll_failures_total",
				Help:      "Count of event polls that failed with a transport error.",
			}),
			duplicates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "indexer",
				Name:      "duplicates_skipped_total",
				Help:      "Count of events skipped by in-batch deduplication.",
			}),
			cursor: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "zaps",
				Subsystem: "indexer",
				Name:      "cursor_ledger",
				Help:      "The next ledger sequence the watcher will poll from.",
			}),
		}
		prometheus.MustRegister(
			indexerRegistry.events,
			indexerRegistry.dispatchFailures,
			indexerRegistry.pollFailures,
			indexerRegistry.duplicates,
			indexerRegistry.cursor,
		)
	})
	return indexerRegistry
}

// RecordEvent counts one dispatched event of the given kind.
func (m *IndexerMetrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	if kind = strings.TrimSpace(kind); kind == "" {
		kind = "unknown"
	}
	m.events.WithLabelValues(kind).Inc()
}

// RecordDispatchFailure counts a reconciliation dispatch error.
func (m *IndexerMetrics) RecordDispatchFailure() {
	if m == nil {
		return
	}
	m.dispatchFailures.Inc()
}

// RecordPollFailure counts a failed event fetch.
func (m *IndexerMetrics) RecordPollFailure() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

// RecordDuplicate counts an event dropped by in-batch dedup.
func (m *IndexerMetrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// SetCursor publishes the watcher's current cursor position.
func (m *IndexerMetrics) SetCursor(ledger uint64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(ledger))
}

// ReconcileMetrics tracks settlement application to payment records.
type ReconcileMetrics struct {
	applied        *prometheus.CounterVec
	notifyFailures prometheus.Counter
	settledVolume  *prometheus.CounterVec
}

// Reconcile exposes the metrics registry for the reconciliation state
// machine.
func Reconcile() *ReconcileMetrics {
	reconcileMetricsOnce.Do(func() {
		reconcileRegistry = &ReconcileMetrics{
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "reconcile",
				Name:      "events_applied_total",
				Help:      "Count of settlement events applied segmented by stream and outcome.",
			}, []string{"stream", "outcome"}),
			notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "reconcile",
				Name:      "notification_failures_total",
				Help:      "Count of notification enqueues that failed and were swallowed.",
			}),
			settledVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "reconcile",
				Name:      "settled_volume",
				Help:      "Settled value in integer smallest-asset units, per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			reconcileRegistry.applied,
			reconcileRegistry.notifyFailures,
			reconcileRegistry.settledVolume,
		)
	})
	return reconcileRegistry
}

// RecordApplied counts one reconciliation outcome. Outcomes are stable
// strings: "completed", "failed", "ignored", "unmatched", "unknown".
func (m *ReconcileMetrics) RecordApplied(stream, outcome string) {
	if m == nil {
		return
	}
	if stream == "" {
		stream = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.applied.WithLabelValues(stream, outcome).Inc()
}

// RecordNotifyFailure counts a swallowed notification enqueue failure.
func (m *ReconcileMetrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// RecordSettled adds a settled amount to the per-asset volume counter.
func (m *ReconcileMetrics) RecordSettled(asset string, amount *big.Int) {
	if m == nil {
		return
	}
	m.settledVolume.WithLabelValues(labelAsset(asset)).Add(bigToFloat(amount))
}

// JobsMetrics tracks the background job queue.
type JobsMetrics struct {
	enqueued   *prometheus.CounterVec
	processed  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
	depth      *prometheus.GaugeVec
}

// Jobs exposes the metrics registry for the background job queue.
func Jobs() *JobsMetrics {
	jobsMetricsOnce.Do(func() {
		jobsRegistry = &JobsMetrics{
			enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "jobs",
				Name:      "enqueued_total",
				Help:      "Count of jobs enqueued segmented by type.",
			}, []string{"type"}),
			processed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "jobs",
				Name:      "processed_total",
				Help:      "Count of jobs processed segmented by type and outcome.",
			}, []string{"type", "outcome"}),
			retries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "jobs",
				Name:      "retries_total",
				Help:      "Count of job retries segmented by type.",
			}, []string{"type"}),
			deadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "zaps",
				Subsystem: "jobs",
				Name:      "dead_lettered_total",
				Help:      "Count of jobs moved to the dead letter list after exhausting retries.",
			}, []string{"type"}),
			depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "zaps",
				Subsystem: "jobs",
				Name:      "queue_depth",
				Help:      "Current number of jobs waiting per queue.",
			}, []string{"queue"}),
		}
		prometheus.MustRegister(
			jobsRegistry.enqueued,
			jobsRegistry.processed,
			jobsRegistry.retries,
			jobsRegistry.deadLetter,
			jobsRegistry.depth,
		)
	})
	return jobsRegistry
}

// RecordEnqueued counts one enqueued job.
func (m *JobsMetrics) RecordEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(labelType(jobType)).Inc()
}

// RecordProcessed counts a completed job execution attempt.
func (m *JobsMetrics) RecordProcessed(jobType string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.processed.WithLabelValues(labelType(jobType), outcome).Inc()
}

// RecordRetry counts a job rescheduled for another attempt.
func (m *JobsMetrics) RecordRetry(jobType string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(labelType(jobType)).Inc()
}

// RecordDeadLetter counts a job parked after exhausting its retries.
func (m *JobsMetrics) RecordDeadLetter(jobType string) {
	if m == nil {
		return
	}
	m.deadLetter.WithLabelValues(labelType(jobType)).Inc()
}

// SetDepth publishes the current depth of a queue.
func (m *JobsMetrics) SetDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	if queue == "" {
		queue = "unknown"
	}
	m.depth.WithLabelValues(queue).Set(float64(depth))
}

func labelType(jobType string) string {
	trimmed := strings.TrimSpace(jobType)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
