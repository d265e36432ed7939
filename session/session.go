package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/tomoswap/txsync"
	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/sdk"
	"github.com/tomoswap/txsync/txm"
)

// ErrNoSession is returned by operations that need a running wallet session.
var ErrNoSession = errors.New("no active session")

// StoreOpener returns the transaction store of wallet.
type StoreOpener func(ctx context.Context, wallet string) (txm.TxStore, error)

// InMemoryStores opens per-wallet stores kept in memory for the life of the process.
func InMemoryStores(accounts *txm.AccountStore) StoreOpener {
	return func(_ context.Context, wallet string) (txm.TxStore, error) {
		return accounts.GetTxStore(wallet), nil
	}
}

// Session owns the reconciler of the wallet currently in use. Starting a session for
// another wallet stops the previous reconciler first, so at most one runs at a time.
type Session struct {
	lggr   logger.Logger
	cfg    txm.TxmConfig
	client sdk.ChainClient
	bus    notify.Bus
	open   StoreOpener
	opts   []txm.Option

	mu      sync.RWMutex
	current *txm.Txm
}

func New(lggr logger.Logger, cfg txm.TxmConfig, client sdk.ChainClient, bus notify.Bus, open StoreOpener, opts ...txm.Option) *Session {
	return &Session{
		lggr:   logger.Named(lggr, "Session"),
		cfg:    cfg,
		client: client,
		bus:    bus,
		open:   open,
		opts:   opts,
	}
}

func (s *Session) Name() string {
	return s.lggr.Name()
}

// Start begins reconciling wallet's pending transactions, replacing any running session.
func (s *Session) Start(ctx context.Context, wallet string) error {
	normalized, err := txsync.NormalizeAddress(wallet)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.stopLocked(); err != nil {
		s.lggr.Warnw("previous session did not stop cleanly", "err", err)
	}

	store, err := s.open(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to open store for %s: %w", normalized, err)
	}
	t := txm.NewTxm(s.lggr, normalized, s.cfg, store, s.client, s.bus, s.opts...)
	if err := t.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler for %s: %w", normalized, err)
	}
	s.current = t
	s.lggr.Infow("session started", "wallet", normalized)
	return nil
}

// SwitchWallet moves the session to another wallet.
func (s *Session) SwitchWallet(ctx context.Context, wallet string) error {
	return s.Start(ctx, wallet)
}

// Stop ends the session. It is a no-op when none is running.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// Close implements io.Closer for service shutdown.
func (s *Session) Close() error {
	return s.Stop()
}

func (s *Session) stopLocked() error {
	if s.current == nil {
		return nil
	}
	wallet := s.current.Wallet()
	err := s.current.Close()
	s.current = nil
	s.lggr.Infow("session stopped", "wallet", wallet)
	return err
}

func (s *Session) active() (*txm.Txm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoSession
	}
	return s.current, nil
}

// Wallet returns the session wallet, or "" when no session is running.
func (s *Session) Wallet() string {
	t, err := s.active()
	if err != nil {
		return ""
	}
	return t.Wallet()
}

// AddNewPendingTransaction records a transaction the session wallet has just broadcast.
func (s *Session) AddNewPendingTransaction(ctx context.Context, req txm.TxRequest) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return "", ErrNoSession
	}
	from, err := txsync.NormalizeAddress(req.From)
	if err != nil {
		return "", fmt.Errorf("%w: from: %v", txm.ErrInvalidRequest, err)
	}
	if from != s.current.Wallet() {
		return "", fmt.Errorf("%w: from %s is not the session wallet %s", txm.ErrInvalidRequest, from, s.current.Wallet())
	}
	return s.current.Ingest(ctx, req)
}

// LastRecordedNonce returns the highest nonce the wallet has used according to the store.
func (s *Session) LastRecordedNonce(ctx context.Context) (uint64, bool, error) {
	t, err := s.active()
	if err != nil {
		return 0, false, err
	}
	return txm.LastNonce(ctx, t.Store(), t.Wallet())
}

func (s *Session) Get(ctx context.Context, id string) (*txm.TransactionRecord, error) {
	t, err := s.active()
	if err != nil {
		return nil, err
	}
	if normalized, err := txsync.NormalizeHash(id); err == nil {
		id = normalized
	}
	return t.Store().Get(ctx, id)
}

func (s *Session) ListByState(ctx context.Context, state txm.TxState) ([]*txm.TransactionRecord, error) {
	t, err := s.active()
	if err != nil {
		return nil, err
	}
	return t.Store().ListByState(ctx, state)
}

func (s *Session) HealthReport() map[string]error {
	t, err := s.active()
	if err != nil {
		return map[string]error{s.Name(): nil}
	}
	report := t.HealthReport()
	report[s.Name()] = nil
	return report
}
