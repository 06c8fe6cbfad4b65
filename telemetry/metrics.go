package telemetry

// PassBuckets for reconciliation pass latency (source query included)
var PassBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Allocation metrics
var (
	// PassesTotal counts reconciliation passes by result (ok, degraded, aborted)
	PassesTotal CounterVec = noopCounterVec{}

	// PassDurationSeconds measures a whole pass
	PassDurationSeconds Histogram = NoopStat{}

	// CandidatesTotal counts candidates by stage (queried, fresh, dropped)
	CandidatesTotal CounterVec = noopCounterVec{}

	// SourceErrorsTotal counts failed candidate store queries
	SourceErrorsTotal Counter = NoopStat{}

	// TransitionsTotal counts member operations by bucket and op (admit, confirm, readmit, evict)
	TransitionsTotal CounterVec = noopCounterVec{}

	// BucketMembers tracks members by bucket and status token
	BucketMembers GaugeVec = noopGaugeVec{}

	// BucketCapacity tracks the configured bound per bucket
	BucketCapacity GaugeVec = noopGaugeVec{}

	// SnapshotErrorsTotal counts snapshot problems by bucket and kind (load, save, malformed, history)
	SnapshotErrorsTotal CounterVec = noopCounterVec{}

	// LastPassTimestamp is the completion time of the last pass
	LastPassTimestamp Gauge = NoopStat{}
)

// Dispatch metrics
var (
	// DispatchTotal counts messages by sink and result (sent, failed, skipped)
	DispatchTotal CounterVec = noopCounterVec{}

	// DispatchRetriesTotal counts retried sends by sink
	DispatchRetriesTotal CounterVec = noopCounterVec{}
)

// InitMetrics binds every metric to the registry (or to noops when disabled)
func InitMetrics() {
	PassesTotal = NewCounterVec(
		"passes_total",
		"Reconciliation passes by result",
		[]string{"result"},
	)
	PassDurationSeconds = NewHistogramWithBuckets(
		"pass_duration_seconds",
		"Reconciliation pass duration in seconds",
		PassBuckets,
	)
	CandidatesTotal = NewCounterVec(
		"candidates_total",
		"Candidates seen by stage",
		[]string{"stage"},
	)
	SourceErrorsTotal = NewCounter(
		"source_errors_total",
		"Failed candidate store queries",
	)
	TransitionsTotal = NewCounterVec(
		"transitions_total",
		"Member operations by bucket and operation",
		[]string{"bucket", "op"},
	)
	BucketMembers = NewGaugeVec(
		"bucket_members",
		"Members per bucket by status",
		[]string{"bucket", "status"},
	)
	BucketCapacity = NewGaugeVec(
		"bucket_capacity",
		"Configured capacity per bucket",
		[]string{"bucket"},
	)
	SnapshotErrorsTotal = NewCounterVec(
		"snapshot_errors_total",
		"Snapshot problems by bucket and kind",
		[]string{"bucket", "kind"},
	)
	LastPassTimestamp = NewGauge(
		"last_pass_timestamp_seconds",
		"Unix time of the last completed pass",
	)

	DispatchTotal = NewCounterVec(
		"dispatch_total",
		"Notification messages by sink and result",
		[]string{"sink", "result"},
	)
	DispatchRetriesTotal = NewCounterVec(
		"dispatch_retries_total",
		"Retried notification sends by sink",
		[]string{"sink"},
	)
}
