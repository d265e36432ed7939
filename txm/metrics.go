package txm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txsync_reconciler_cycles_total",
		Help: "Completed reconciliation cycles",
	}, []string{"wallet"})
	promSkippedCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txsync_reconciler_skipped_cycles_total",
		Help: "Cycles skipped because the previous one was still running",
	}, []string{"wallet"})
	promCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txsync_reconciler_cycle_duration_seconds",
		Help:    "Wall time of a reconciliation cycle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"wallet"})
	promTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txsync_reconciler_transitions_total",
		Help: "Pending transactions moved to a final state",
	}, []string{"wallet", "state"})
	promRPCErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txsync_reconciler_rpc_errors_total",
		Help: "Failed node calls by method and error class",
	}, []string{"method", "class"})
)
