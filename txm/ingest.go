package txm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/tomoswap/txsync"
	"github.com/tomoswap/txsync/notify"
)

// ErrInvalidRequest wraps every validation failure returned by Ingest.
var ErrInvalidRequest = errors.New("invalid transaction request")

// TxRequest describes a transaction the wallet has just broadcast.
type TxRequest struct {
	Hash     string  `json:"hash"`
	Nonce    *uint64 `json:"nonce,omitempty"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Value    string  `json:"value"`
	GasLimit string  `json:"gasLimit"`
	GasPrice string  `json:"gasPrice"`
	// RawTx is the signed transaction, hex encoded. When set its hash must match Hash.
	RawTx       string      `json:"rawTx,omitempty"`
	Operations  []Operation `json:"operations"`
	SubmittedAt time.Time   `json:"submittedAt"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// toRecord validates the request and builds the Pending record it stands for.
func (req TxRequest) toRecord(now time.Time, cfg TxmConfig) (*TransactionRecord, error) {
	hash, err := txsync.NormalizeHash(req.Hash)
	if err != nil {
		return nil, invalid("%v", err)
	}
	from, err := txsync.NormalizeAddress(req.From)
	if err != nil {
		return nil, invalid("from: %v", err)
	}
	var to string
	if req.To != "" {
		if to, err = txsync.NormalizeAddress(req.To); err != nil {
			return nil, invalid("to: %v", err)
		}
	}

	amounts := []struct {
		name  string
		value *string
	}{
		{"value", &req.Value},
		{"gasLimit", &req.GasLimit},
		{"gasPrice", &req.GasPrice},
	}
	for _, amount := range amounts {
		normalized, err := normalizeAmount(*amount.value)
		if err != nil {
			return nil, invalid("%s: %v", amount.name, err)
		}
		*amount.value = normalized
	}

	nonce := req.Nonce
	if req.RawTx != "" {
		raw, err := txsync.DecodeHex(req.RawTx)
		if err != nil {
			return nil, invalid("rawTx: %v", err)
		}
		if got := txsync.Keccak256Hex(raw); got != hash {
			return nil, invalid("rawTx hashes to %s, not %s", got, hash)
		}
		var tx types.Transaction
		if err := tx.UnmarshalBinary(raw); err != nil {
			return nil, invalid("rawTx: %v", err)
		}
		if cfg.ChainID != nil && tx.ChainId().Cmp(cfg.ChainID) != 0 {
			return nil, invalid("rawTx is signed for chain %s, not %s", tx.ChainId(), cfg.ChainID)
		}
		if nonce != nil && *nonce != tx.Nonce() {
			return nil, invalid("nonce %d does not match rawTx nonce %d", *nonce, tx.Nonce())
		}
		rawNonce := tx.Nonce()
		nonce = &rawNonce
	}
	if nonce == nil {
		return nil, invalid("nonce is required without rawTx")
	}

	// the grace period is measured from submittedAt, so it must be close to now
	submittedAt := req.SubmittedAt
	switch {
	case submittedAt.IsZero():
		submittedAt = now
	case submittedAt.After(now.Add(MaxClockSkew)):
		return nil, invalid("submittedAt %s is in the future", submittedAt.UTC().Format(time.RFC3339))
	case submittedAt.Before(now.Add(-cfg.GracePeriod)):
		return nil, invalid("submittedAt %s is older than the %s grace period", submittedAt.UTC().Format(time.RFC3339), cfg.GracePeriod)
	}

	return &TransactionRecord{
		ID:          hash,
		Nonce:       *nonce,
		From:        from,
		To:          to,
		Value:       req.Value,
		GasLimit:    req.GasLimit,
		GasPrice:    req.GasPrice,
		SubmittedAt: submittedAt.UTC(),
		UpdatedAt:   now.UTC(),
		State:       Pending,
		Operations:  req.Operations,
	}, nil
}

// normalizeAmount checks that s is a non-negative integer and returns it in canonical form.
// The empty string means zero.
func normalizeAmount(s string) (string, error) {
	if s == "" {
		return "0", nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", err
	}
	if d.IsNegative() {
		return "", fmt.Errorf("negative amount %s", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return "", fmt.Errorf("fractional amount %s", s)
	}
	return d.String(), nil
}

// Ingest records a freshly broadcast transaction as Pending and, when the reconciler is
// running, checks it once right away instead of waiting for the next cycle. Submitting the
// same hash twice is a no-op returning the same id.
func (t *Txm) Ingest(ctx context.Context, req TxRequest) (string, error) {
	rec, err := req.toRecord(t.now(), t.cfg)
	if err != nil {
		return "", err
	}

	if err := t.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrTxExists) {
			t.lggr.Debugw("transaction already tracked", "txHash", rec.ID)
			return rec.ID, nil
		}
		return "", fmt.Errorf("failed to store transaction %s: %w", rec.ID, err)
	}
	t.lggr.Infow("tracking new pending transaction", "txHash", rec.ID, "nonce", rec.Nonce, "from", rec.From, "to", rec.To, "value", rec.Value)

	t.bus.Publish(ctx, notify.NewEvent(notify.TopicTxUpdated, t.wallet, rec.ID, rec.State.String()))
	t.bus.Publish(ctx, notify.NewEvent(notify.TopicTxListUpdated, t.wallet, "", ""))

	t.IfStarted(func() {
		t.done.Add(1)
		go func() {
			defer t.done.Done()
			ctx, cancel := t.chStop.NewCtx()
			defer cancel()
			t.apply(ctx, t.resolve(ctx, rec))
		}()
	})
	return rec.ID, nil
}

// LastNonce returns the highest nonce among records sent from wallet, and false when there are none.
func LastNonce(ctx context.Context, store TxStore, wallet string) (uint64, bool, error) {
	var (
		last  uint64
		found bool
	)
	for _, state := range []TxState{Pending, Completed, Failed, Errored} {
		recs, err := store.ListByState(ctx, state)
		if err != nil {
			return 0, false, fmt.Errorf("failed to list %s transactions: %w", state, err)
		}
		for _, rec := range recs {
			if rec.From != wallet {
				continue
			}
			if !found || rec.Nonce > last {
				last = rec.Nonce
				found = true
			}
		}
	}
	return last, found, nil
}
