package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTransactions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "txsync_transactions", Help: "Stored transactions per state"},
		[]string{"wallet", "state"},
	)
	promOldestPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "txsync_oldest_pending_seconds", Help: "Age of the oldest pending transaction"},
		[]string{"wallet"},
	)
)

func (m *stateMonitor) updateProm(s snapshot) {
	if m.reported != "" && m.reported != s.wallet {
		promTransactions.DeletePartialMatch(prometheus.Labels{"wallet": m.reported})
		promOldestPending.DeletePartialMatch(prometheus.Labels{"wallet": m.reported})
	}
	m.reported = s.wallet
	if s.wallet == "" {
		return
	}
	for state, n := range s.counts {
		promTransactions.WithLabelValues(s.wallet, state.String()).Set(float64(n))
	}
	promOldestPending.WithLabelValues(s.wallet).Set(s.oldestPending.Seconds())
}
