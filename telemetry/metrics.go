package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// CycleBuckets for end-to-end sync cycle durations (list + enrich + publish)
	CycleBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	// GatewayBuckets for single upstream HTTP calls
	GatewayBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// PublishBuckets for one batch publish call
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

// Cycle metrics
var (
	// CyclesTotal counts pipeline cycles by provider, entity type and result
	// (success, upstream_error, empty, skipped_inflight)
	CyclesTotal CounterVec = noopCounterVec{}

	// CycleDurationSeconds measures end-to-end cycle latency per provider
	CycleDurationSeconds HistogramVec = noopHistogramVec{}

	// RawEventsTotal counts raw change events received per provider and entity type
	RawEventsTotal CounterVec = noopCounterVec{}

	// CoalescedDropsTotal counts raw events folded away by the aggregator
	CoalescedDropsTotal Counter = NoopStat{}

	// WatermarkCursor tracks the current cursor per provider and entity type
	WatermarkCursor GaugeVec = noopGaugeVec{}
)

// Filter metrics
var (
	// EligibilityExclusionsTotal counts excluded candidates by reason
	// (notes, active_submittal, do_not_submit, seen_value)
	EligibilityExclusionsTotal CounterVec = noopCounterVec{}

	// SeenValuePrefilterTotal counts prefilter outcomes (miss, hit)
	SeenValuePrefilterTotal CounterVec = noopCounterVec{}
)

// Publish metrics
var (
	// EnvelopesBuiltTotal counts envelopes built per provider
	EnvelopesBuiltTotal CounterVec = noopCounterVec{}

	// EnvelopesSkippedTotal counts per-entity skips by reason
	// (serialization, validation)
	EnvelopesSkippedTotal CounterVec = noopCounterVec{}

	// BatchFlushesTotal counts batch flushes by result (success, failure)
	BatchFlushesTotal CounterVec = noopCounterVec{}

	// BatchFlushSeconds measures one batch publish call
	BatchFlushSeconds Histogram = NoopStat{}

	// CompressedPayloadsTotal counts oversized payloads that were deflated
	CompressedPayloadsTotal Counter = NoopStat{}
)

// Pool metrics
var (
	// PoolActiveWorkers tracks currently busy fan-out workers
	PoolActiveWorkers Gauge = NoopStat{}

	// PoolCallerRunsTotal counts tasks executed on the submitting goroutine
	// because the queue was full
	PoolCallerRunsTotal Counter = NoopStat{}

	// GatewayCallSeconds measures upstream call latency by provider and op
	GatewayCallSeconds HistogramVec = noopHistogramVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	CyclesTotal = NewCounterVec(
		"cycles_total",
		"Pipeline cycles by provider, entity type and result",
		[]string{"provider", "entity", "result"},
	)
	CycleDurationSeconds = NewHistogramVec(
		"cycle_duration_seconds",
		"End-to-end cycle duration in seconds",
		[]string{"provider"},
		CycleBuckets,
	)
	RawEventsTotal = NewCounterVec(
		"raw_events_total",
		"Raw change events received",
		[]string{"provider", "entity"},
	)
	CoalescedDropsTotal = NewCounter(
		"coalesced_drops_total",
		"Raw events folded into an existing effective change",
	)
	WatermarkCursor = NewGaugeVec(
		"watermark_cursor",
		"Current watermark cursor value",
		[]string{"provider", "entity"},
	)

	EligibilityExclusionsTotal = NewCounterVec(
		"eligibility_exclusions_total",
		"Candidates excluded by the eligibility filter",
		[]string{"reason"},
	)
	SeenValuePrefilterTotal = NewCounterVec(
		"seen_value_prefilter_total",
		"Seen-value prefilter outcomes",
		[]string{"result"},
	)

	EnvelopesBuiltTotal = NewCounterVec(
		"envelopes_built_total",
		"Envelopes built per provider",
		[]string{"provider"},
	)
	EnvelopesSkippedTotal = NewCounterVec(
		"envelopes_skipped_total",
		"Per-entity skips by reason",
		[]string{"reason"},
	)
	BatchFlushesTotal = NewCounterVec(
		"batch_flushes_total",
		"Batch flushes by result",
		[]string{"result"},
	)
	BatchFlushSeconds = NewHistogramWithBuckets(
		"batch_flush_seconds",
		"Duration of one batch publish call",
		PublishBuckets,
	)
	CompressedPayloadsTotal = NewCounter(
		"compressed_payloads_total",
		"Oversized payloads deflated before publish",
	)

	PoolActiveWorkers = NewGauge(
		"pool_active_workers",
		"Currently busy fan-out workers",
	)
	PoolCallerRunsTotal = NewCounter(
		"pool_caller_runs_total",
		"Tasks run on the submitting goroutine due to a full queue",
	)
	GatewayCallSeconds = NewHistogramVec(
		"gateway_call_seconds",
		"Upstream gateway call duration",
		[]string{"provider", "op"},
		GatewayBuckets,
	)
}
