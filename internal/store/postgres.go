package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/option-pool/internal/model"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	kind       TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	body       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, key)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq       BIGSERIAL PRIMARY KEY,
	id        UUID      NOT NULL UNIQUE,
	action    TEXT      NOT NULL,
	owner     TEXT      NOT NULL,
	pool      TEXT      NOT NULL,
	asset     TEXT      NOT NULL,
	idx       BIGINT    NOT NULL,
	amount    NUMERIC(20, 0) NOT NULL,
	price     NUMERIC(20, 0) NOT NULL,
	timestamp BIGINT    NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_entries_owner ON ledger_entries (owner, seq);`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Records are stored as tagged JSONB envelopes; amounts in the ledger as
// NUMERIC.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) Load(ctx context.Context, kind model.Kind, key string) (model.Record, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM records WHERE kind = $1 AND key = $2`, string(kind), key).
		Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, key, err)
	}
	return model.Decode(model.Envelope{Kind: kind, Key: key, Body: body}, kind)
}

func (s *PostgresStore) List(ctx context.Context, kind model.Kind, prefix string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, body FROM records
		 WHERE kind = $1 AND starts_with(key, $2)
		 ORDER BY key`, string(kind), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return nil, err
		}
		r, err := model.Decode(model.Envelope{Kind: kind, Key: key, Body: body}, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Commit(ctx context.Context, b Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, r := range b.Records {
		env, err := model.Encode(r)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO records (kind, key, body, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (kind, key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
			string(env.Kind), env.Key, []byte(env.Body)); err != nil {
			return fmt.Errorf("upsert %s %s: %w", env.Kind, env.Key, err)
		}
	}

	for _, e := range b.Entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_entries (id, action, owner, pool, asset, idx, amount, price, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)`,
			e.ID, e.Action, e.Owner, e.Pool, e.Asset, int64(e.Index),
			strconv.FormatUint(e.Amount, 10), strconv.FormatUint(e.Price, 10),
			e.Timestamp); err != nil {
			return fmt.Errorf("insert ledger entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Entries(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, action, owner, pool, asset, idx, amount::TEXT, price::TEXT, timestamp
		 FROM ledger_entries
		 WHERE $1 = '' OR owner = $1
		 ORDER BY seq`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var idx int64
		var amountS, priceS string

		if err := rows.Scan(&e.ID, &e.Action, &e.Owner, &e.Pool, &e.Asset,
			&idx, &amountS, &priceS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Index = uint64(idx)
		var err error
		if e.Amount, err = strconv.ParseUint(amountS, 10, 64); err != nil {
			return nil, fmt.Errorf("ledger entry %s amount: %w", e.ID, err)
		}
		if e.Price, err = strconv.ParseUint(priceS, 10, 64); err != nil {
			return nil, fmt.Errorf("ledger entry %s price: %w", e.ID, err)
		}

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
