package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tomoswap/txsync/txm"
)

const recordColumns = `id, nonce, from_address, to_address, value, gas_limit, gas_price, gas_used,
	block_number, submitted_at, updated_at, state, operations, error_code, error_message`

var _ txm.TxStore = &TxStore{}

// TxStore keeps one wallet's transaction records in the wallet_transactions table.
type TxStore struct {
	db     dbtx
	wallet string
}

func newTxStore(db dbtx, wallet string) *TxStore {
	return &TxStore{db: db, wallet: wallet}
}

func (s *TxStore) Insert(ctx context.Context, rec *txm.TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx,
		`INSERT INTO wallet_transactions (wallet, `+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (wallet, id) DO NOTHING`,
		append([]any{s.wallet}, args...)...)
	if err != nil {
		return errors.Wrapf(err, "failed to insert transaction %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(txm.ErrTxExists, rec.ID)
	}
	return nil
}

func (s *TxStore) Get(ctx context.Context, id string) (*txm.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	row := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM wallet_transactions WHERE wallet = $1 AND id = $2`,
		s.wallet, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(txm.ErrTxNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get transaction %s", id)
	}
	return rec, nil
}

func (s *TxStore) ListByState(ctx context.Context, state txm.TxState) ([]*txm.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM wallet_transactions
		 WHERE wallet = $1 AND state = $2
		 ORDER BY submitted_at, id`,
		s.wallet, state.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s transactions", state)
	}
	defer rows.Close()

	var recs []*txm.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s transactions", state)
		}
		recs = append(recs, rec)
	}
	return recs, errors.Wrap(rows.Err(), "failed to iterate transactions")
}

func (s *TxStore) Update(ctx context.Context, rec *txm.TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx,
		`UPDATE wallet_transactions SET
			nonce = $3, from_address = $4, to_address = $5, value = $6, gas_limit = $7,
			gas_price = $8, gas_used = $9, block_number = $10, submitted_at = $11,
			updated_at = $12, state = $13, operations = $14, error_code = $15, error_message = $16
		 WHERE wallet = $1 AND id = $2`,
		append([]any{s.wallet}, args...)...)
	if err != nil {
		return errors.Wrapf(err, "failed to update transaction %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(txm.ErrTxNotFound, rec.ID)
	}
	return nil
}

func (s *TxStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()
	tag, err := s.db.Exec(ctx,
		`DELETE FROM wallet_transactions WHERE wallet = $1 AND id = $2`,
		s.wallet, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete transaction %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(txm.ErrTxNotFound, id)
	}
	return nil
}

// recordArgs returns rec's values in recordColumns order.
func recordArgs(rec *txm.TransactionRecord) ([]any, error) {
	ops := rec.Operations
	if ops == nil {
		ops = []txm.Operation{}
	}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode operations of %s", rec.ID)
	}
	return []any{
		rec.ID,
		int64(rec.Nonce),
		rec.From,
		rec.To,
		rec.Value,
		rec.GasLimit,
		rec.GasPrice,
		rec.GasUsed,
		int64(rec.BlockNumber),
		rec.SubmittedAt,
		rec.UpdatedAt,
		rec.State.String(),
		opsJSON,
		int32(rec.ErrorCode),
		rec.ErrorMessage,
	}, nil
}

func scanRecord(row pgx.Row) (*txm.TransactionRecord, error) {
	var (
		rec         txm.TransactionRecord
		nonce       int64
		blockNumber int64
		state       string
		opsJSON     []byte
		errorCode   int32
	)
	err := row.Scan(
		&rec.ID,
		&nonce,
		&rec.From,
		&rec.To,
		&rec.Value,
		&rec.GasLimit,
		&rec.GasPrice,
		&rec.GasUsed,
		&blockNumber,
		&rec.SubmittedAt,
		&rec.UpdatedAt,
		&state,
		&opsJSON,
		&errorCode,
		&rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	rec.Nonce = uint64(nonce)
	rec.BlockNumber = uint64(blockNumber)
	rec.ErrorCode = int(errorCode)
	if rec.State, err = txm.ParseTxState(state); err != nil {
		return nil, err
	}
	if len(opsJSON) > 0 {
		if err := json.Unmarshal(opsJSON, &rec.Operations); err != nil {
			return nil, errors.Wrapf(err, "failed to decode operations of %s", rec.ID)
		}
	}
	return &rec, nil
}
