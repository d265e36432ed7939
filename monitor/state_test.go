package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/tomoswap/txsync/txm"
)

const testWallet = "0x36f6f1a5d1b1f2a2e2a3d8e3d5a1b6c7d8e9f0a1"

type config struct {
	statePollPeriod time.Duration
}

func (c *config) StatePollPeriod() time.Duration {
	return c.statePollPeriod
}

type fakeSource struct {
	wallet  string
	records map[txm.TxState][]*txm.TransactionRecord
	err     error
}

func (f *fakeSource) Wallet() string { return f.wallet }

func (f *fakeSource) ListByState(_ context.Context, state txm.TxState) ([]*txm.TransactionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[state], nil
}

func TestStateMonitor(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{
		wallet: testWallet,
		records: map[txm.TxState][]*txm.TransactionRecord{
			txm.Pending: {
				{ID: "0x1", SubmittedAt: now.Add(-90 * time.Second)},
				{ID: "0x2", SubmittedAt: now.Add(-time.Second)},
			},
			txm.Completed: {{ID: "0x3"}},
		},
	}

	m := newStateMonitor(&config{statePollPeriod: 100 * time.Millisecond}, logger.Test(t), source)
	m.now = func() time.Time { return now }
	got := make(chan snapshot, 1)
	m.updateFn = func(s snapshot) {
		select {
		case got <- s:
		default:
		}
	}

	require.NoError(t, m.Start(tests.Context(t)))
	t.Cleanup(func() {
		assert.NoError(t, m.Close())
	})

	var s snapshot
	select {
	case <-time.After(tests.WaitTimeout(t)):
		t.Fatal("timed out waiting for state monitor")
	case s = <-got:
	}

	assert.Equal(t, testWallet, s.wallet)
	assert.Equal(t, map[txm.TxState]int{
		txm.Pending:   2,
		txm.Completed: 1,
		txm.Failed:    0,
		txm.Errored:   0,
	}, s.counts)
	assert.Equal(t, 90*time.Second, s.oldestPending)
}

func TestStateMonitor_NoUpdate(t *testing.T) {
	t.Run("store error", func(t *testing.T) {
		lggr, observed := logger.TestObserved(t, zapcore.ErrorLevel)
		m := newStateMonitor(&config{}, lggr, &fakeSource{wallet: testWallet, err: errors.New("db down")})
		called := false
		m.updateFn = func(snapshot) { called = true }

		m.updateStates(tests.Context(t))
		assert.False(t, called)
		assert.Equal(t, 1, observed.FilterMessageSnippet("Failed to list transactions").Len())
	})

	t.Run("no session", func(t *testing.T) {
		m := newStateMonitor(&config{}, logger.Test(t), &fakeSource{})
		var got []snapshot
		m.updateFn = func(s snapshot) { got = append(got, s) }

		m.updateStates(tests.Context(t))
		require.Len(t, got, 1)
		assert.Empty(t, got[0].wallet)
		assert.Empty(t, got[0].counts)
	})
}
