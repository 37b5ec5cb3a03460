package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TxnExecutedCounter counts finished txn attempts by partition and
	// final status.
	TxnExecutedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "txn_executed_total",
			Help:      "Counter of executed transactions by status.",
		}, []string{"partition", "status"})

	SpeculativeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "speculative_total",
			Help:      "Counter of speculatively executed transactions by stall point.",
		}, []string{"partition", "spec_type"})

	TxnRestartedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "txn_restarted_total",
			Help:      "Counter of transactions requeued for another attempt.",
		}, []string{"partition", "status"})

	EngineCommitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyoltp",
			Subsystem: "engine",
			Name:      "undo_commit_total",
			Help:      "Counter of released undo tokens.",
		}, []string{"partition"})

	EngineRollbackCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyoltp",
			Subsystem: "engine",
			Name:      "undo_rollback_total",
			Help:      "Counter of rolled back undo tokens.",
		}, []string{"partition"})

	WorkQueueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "work_queue_depth",
			Help:      "Depth of the partition work queue.",
		}, []string{"partition"})

	LockQueueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "lock_queue_depth",
			Help:      "Depth of the partition lock queue.",
		}, []string{"partition"})

	BlockedSpecExecGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyoltp",
			Subsystem: "executor",
			Name:      "blocked_spec_responses",
			Help:      "Speculative responses buffered behind the current dtxn.",
		}, []string{"partition"})
)

func init() {
	prometheus.MustRegister(TxnExecutedCounter)
	prometheus.MustRegister(SpeculativeCounter)
	prometheus.MustRegister(TxnRestartedCounter)
	prometheus.MustRegister(EngineCommitCounter)
	prometheus.MustRegister(EngineRollbackCounter)
	prometheus.MustRegister(WorkQueueDepthGauge)
	prometheus.MustRegister(LockQueueDepthGauge)
	prometheus.MustRegister(BlockedSpecExecGauge)
}
