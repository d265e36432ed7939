package monitor

import (
	"context"
	"time"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils"

	"github.com/tomoswap/txsync/txm"
)

// Config defines the monitor configuration.
type Config interface {
	StatePollPeriod() time.Duration
}

// Source is where the monitor reads the current wallet's transactions from.
type Source interface {
	// Wallet returns "" while no wallet is active.
	Wallet() string
	ListByState(ctx context.Context, state txm.TxState) ([]*txm.TransactionRecord, error)
}

var monitoredStates = []txm.TxState{txm.Pending, txm.Completed, txm.Failed, txm.Errored}

// NewStateMonitor returns a services.Service which reports the number of transactions per
// state of the active wallet to prometheus.
func NewStateMonitor(cfg Config, lggr logger.Logger, source Source) services.Service {
	return newStateMonitor(cfg, lggr, source)
}

func newStateMonitor(cfg Config, lggr logger.Logger, source Source) *stateMonitor {
	m := stateMonitor{
		cfg:    cfg,
		lggr:   logger.Named(lggr, "StateMonitor"),
		source: source,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.updateFn = m.updateProm
	return &m
}

type snapshot struct {
	wallet        string
	counts        map[txm.TxState]int
	oldestPending time.Duration
}

type stateMonitor struct {
	services.StateMachine
	cfg      Config
	lggr     logger.Logger
	source   Source
	now      func() time.Time
	updateFn func(s snapshot) // overridable for testing
	// wallet whose series are currently exported, only touched by updateProm
	reported string

	stop services.StopChan
	done chan struct{}
}

func (m *stateMonitor) Name() string {
	return m.lggr.Name()
}

func (m *stateMonitor) Start(context.Context) error {
	return m.StartOnce("StateMonitor", func() error {
		go m.monitor()
		return nil
	})
}

func (m *stateMonitor) Close() error {
	return m.StopOnce("StateMonitor", func() error {
		close(m.stop)
		<-m.done
		return nil
	})
}

func (m *stateMonitor) HealthReport() map[string]error {
	return map[string]error{m.Name(): m.Healthy()}
}

func (m *stateMonitor) monitor() {
	defer close(m.done)
	ctx, cancel := m.stop.NewCtx()
	defer cancel()

	tick := time.After(utils.WithJitter(m.cfg.StatePollPeriod()))
	for {
		select {
		case <-m.stop:
			return
		case <-tick:
			m.updateStates(ctx)
			tick = time.After(utils.WithJitter(m.cfg.StatePollPeriod()))
		}
	}
}

func (m *stateMonitor) updateStates(ctx context.Context) {
	wallet := m.source.Wallet()
	if wallet == "" {
		// no session: clears the series of the last reported wallet
		m.updateFn(snapshot{})
		return
	}
	s := snapshot{wallet: wallet, counts: map[txm.TxState]int{}}
	for _, state := range monitoredStates {
		// Check for shutdown signal, since the store may be remote and slow.
		select {
		case <-m.stop:
			return
		default:
		}

		recs, err := m.source.ListByState(ctx, state)
		if err != nil {
			m.lggr.Errorw("Failed to list transactions", "wallet", wallet, "state", state, "err", err)
			return
		}
		s.counts[state] = len(recs)
		if state == txm.Pending && len(recs) > 0 {
			// records come oldest first
			s.oldestPending = m.now().Sub(recs[0].SubmittedAt)
		}
	}
	m.updateFn(s)
}
