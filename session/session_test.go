package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/tomoswap/txsync/mocks"
	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/session"
	"github.com/tomoswap/txsync/txm"
)

const (
	walletA = "0x36f6f1a5d1b1f2a2e2a3d8e3d5a1b6c7d8e9f0a1"
	walletB = "0x000000000000000000000000000000000000dead"
)

var hashAAA = "0x" + strings.Repeat("a", 64)

func request(from string, nonce uint64) txm.TxRequest {
	return txm.TxRequest{
		Hash:     hashAAA,
		Nonce:    &nonce,
		From:     from,
		To:       walletB,
		Value:    "1",
		GasLimit: "21000",
		GasPrice: "1",
	}
}

func newSession(t *testing.T) (*session.Session, *mocks.ChainClient, *txm.AccountStore) {
	lggr, _ := logger.TestObserved(t, zapcore.DebugLevel)
	client := mocks.NewChainClient(t)
	client.On("GetReceipt", mock.Anything, mock.Anything).Maybe().Return(nil, sdk.ErrNotFound)
	client.On("GetTransactionByHash", mock.Anything, mock.Anything).Maybe().Return(&sdk.TxInfo{Pending: true}, nil)
	accounts := txm.NewAccountStore()
	s := session.New(lggr, txm.TxmConfig{PollPeriod: time.Hour}, client, notify.NewBroadcaster(lggr, 10), session.InMemoryStores(accounts))
	t.Cleanup(func() { _ = s.Close() })
	return s, client, accounts
}

func TestSession_RequiresStart(t *testing.T) {
	s, _, _ := newSession(t)
	ctx := tests.Context(t)

	_, err := s.AddNewPendingTransaction(ctx, request(walletA, 1))
	require.ErrorIs(t, err, session.ErrNoSession)
	_, _, err = s.LastRecordedNonce(ctx)
	require.ErrorIs(t, err, session.ErrNoSession)
	_, err = s.ListByState(ctx, txm.Pending)
	require.ErrorIs(t, err, session.ErrNoSession)
	require.Empty(t, s.Wallet())
	require.NoError(t, s.Stop())

	require.Error(t, s.Start(ctx, "not-a-wallet"))
}

func TestSession_Lifecycle(t *testing.T) {
	s, _, accounts := newSession(t)
	ctx := tests.Context(t)

	require.NoError(t, s.Start(ctx, strings.ToUpper(walletA[2:])))
	require.Equal(t, walletA, s.Wallet())

	id, err := s.AddNewPendingTransaction(ctx, request(walletA, 4))
	require.NoError(t, err)
	require.Equal(t, hashAAA, id)

	rec, err := s.Get(ctx, strings.ToUpper(id[2:]))
	require.NoError(t, err)
	require.Equal(t, txm.Pending, rec.State)

	nonce, found, err := s.LastRecordedNonce(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(4), nonce)

	_, err = s.AddNewPendingTransaction(ctx, request(walletB, 5))
	require.ErrorIs(t, err, txm.ErrInvalidRequest)
	require.ErrorContains(t, err, "is not the session wallet")

	// switching keeps each wallet's records apart
	require.NoError(t, s.SwitchWallet(ctx, walletB))
	require.Equal(t, walletB, s.Wallet())
	pending, err := s.ListByState(ctx, txm.Pending)
	require.NoError(t, err)
	require.Empty(t, pending)
	_, found, err = s.LastRecordedNonce(ctx)
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, 1, accounts.GetTxStore(walletA).Count())

	report := s.HealthReport()
	require.Len(t, report, 2)
	for _, err := range report {
		require.NoError(t, err)
	}

	require.NoError(t, s.Stop())
	require.Empty(t, s.Wallet())
	_, err = s.Get(ctx, id)
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestSession_StoreOpenFailure(t *testing.T) {
	lggr := logger.Test(t)
	s := session.New(lggr, txm.TxmConfig{}, mocks.NewChainClient(t), notify.NewBroadcaster(lggr, 1),
		func(context.Context, string) (txm.TxStore, error) { return nil, errors.New("db down") })

	err := s.Start(tests.Context(t), walletA)
	require.ErrorContains(t, err, "db down")
	require.Empty(t, s.Wallet())
}
