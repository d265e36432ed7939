package txm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

var (
	ErrTxNotFound = errors.New("transaction not found")
	ErrTxExists   = errors.New("transaction already exists")
)

// TxStore holds one wallet's transaction records keyed by transaction hash.
// Implementations return copies; mutating a returned record does not change the store.
type TxStore interface {
	// Insert fails with ErrTxExists when the id is already present.
	Insert(ctx context.Context, rec *TransactionRecord) error
	Get(ctx context.Context, id string) (*TransactionRecord, error)
	// ListByState returns records ordered by submission time, oldest first.
	ListByState(ctx context.Context, state TxState) ([]*TransactionRecord, error)
	// Update replaces the stored record with the same id.
	Update(ctx context.Context, rec *TransactionRecord) error
	Delete(ctx context.Context, id string) error
}

var _ TxStore = &InMemoryTxStore{}

type InMemoryTxStore struct {
	lock sync.RWMutex
	txs  map[string]*TransactionRecord
}

func NewInMemoryTxStore() *InMemoryTxStore {
	return &InMemoryTxStore{
		txs: map[string]*TransactionRecord{},
	}
}

// Should be called for any read-only operations on the tx store
func (s *InMemoryTxStore) withReadLock(fn func() error) error {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return fn()
}

// Should be called for any write operations on the tx store
func (s *InMemoryTxStore) withWriteLock(fn func() error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fn()
}

func (s *InMemoryTxStore) Insert(_ context.Context, rec *TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.withWriteLock(func() error {
		if _, exists := s.txs[rec.ID]; exists {
			return fmt.Errorf("%w: %s", ErrTxExists, rec.ID)
		}
		s.txs[rec.ID] = rec.Clone()
		return nil
	})
}

func (s *InMemoryTxStore) Get(_ context.Context, id string) (*TransactionRecord, error) {
	var rec *TransactionRecord
	err := s.withReadLock(func() error {
		stored, ok := s.txs[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, id)
		}
		rec = stored.Clone()
		return nil
	})
	return rec, err
}

func (s *InMemoryTxStore) ListByState(_ context.Context, state TxState) ([]*TransactionRecord, error) {
	var recs []*TransactionRecord
	_ = s.withReadLock(func() error {
		for _, rec := range s.txs {
			if rec.State == state {
				recs = append(recs, rec.Clone())
			}
		}
		return nil
	})
	sortBySubmission(recs)
	return recs, nil
}

func (s *InMemoryTxStore) Update(_ context.Context, rec *TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.withWriteLock(func() error {
		if _, ok := s.txs[rec.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, rec.ID)
		}
		s.txs[rec.ID] = rec.Clone()
		return nil
	})
}

func (s *InMemoryTxStore) Delete(_ context.Context, id string) error {
	return s.withWriteLock(func() error {
		if _, ok := s.txs[id]; !ok {
			return fmt.Errorf("%w: %s", ErrTxNotFound, id)
		}
		delete(s.txs, id)
		return nil
	})
}

func (s *InMemoryTxStore) Count() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.txs)
}

func sortBySubmission(recs []*TransactionRecord) {
	slices.SortFunc(recs, func(a, b *TransactionRecord) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// AccountStore keeps one in-memory TxStore per wallet address.
type AccountStore struct {
	store map[string]*InMemoryTxStore // map wallet address to txstore
	lock  sync.RWMutex
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		store: map[string]*InMemoryTxStore{},
	}
}

func (c *AccountStore) GetTxStore(wallet string) *InMemoryTxStore {
	c.lock.Lock()
	defer c.lock.Unlock()
	wallet = strings.ToLower(wallet)
	store, ok := c.store[wallet]
	if !ok {
		store = NewInMemoryTxStore()
		c.store[wallet] = store
	}
	return store
}

func (c *AccountStore) GetTotalCount() int {
	// use read lock for methods that read underlying data
	c.lock.RLock()
	defer c.lock.RUnlock()

	count := 0
	for _, store := range c.store {
		count += store.Count()
	}
	return count
}
