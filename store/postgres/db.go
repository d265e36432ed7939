package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	// DefaultQueryTimeout bounds every single statement.
	DefaultQueryTimeout = 10 * time.Second
)

const schema = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
	wallet        TEXT        NOT NULL,
	id            TEXT        NOT NULL,
	nonce         BIGINT      NOT NULL,
	from_address  TEXT        NOT NULL,
	to_address    TEXT        NOT NULL DEFAULT '',
	value         TEXT        NOT NULL DEFAULT '0',
	gas_limit     TEXT        NOT NULL DEFAULT '0',
	gas_price     TEXT        NOT NULL DEFAULT '0',
	gas_used      TEXT        NOT NULL DEFAULT '',
	block_number  BIGINT      NOT NULL DEFAULT 0,
	submitted_at  TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	state         TEXT        NOT NULL,
	operations    JSONB       NOT NULL DEFAULT '[]',
	error_code    INTEGER     NOT NULL DEFAULT 0,
	error_message TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (wallet, id)
);
CREATE INDEX IF NOT EXISTS wallet_transactions_state_idx
	ON wallet_transactions (wallet, state, submitted_at);
`

// dbtx is the subset of *pgxpool.Pool used by the stores.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB owns the connection pool shared by every wallet's store.
type DB struct {
	lggr logger.Logger
	pool *pgxpool.Pool
}

func New(ctx context.Context, lggr logger.Logger, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &DB{lggr: logger.Named(lggr, "Postgres"), pool: pool}, nil
}

// Migrate creates the schema when it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	db.lggr.Debugw("schema ready")
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) Close() {
	db.pool.Close()
}

// ForWallet returns the store holding wallet's transactions.
func (db *DB) ForWallet(wallet string) *TxStore {
	return newTxStore(db.pool, wallet)
}
