package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the balance table used by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS token_balances (
	account TEXT    NOT NULL,
	asset   TEXT    NOT NULL,
	amount  NUMERIC(20, 0) NOT NULL CHECK (amount >= 0),
	PRIMARY KEY (account, asset)
);`

// Postgres is a Ledger backed by a token_balances table. Each Apply runs in
// one transaction with row locks on every debited account.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the schema if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, Schema)
	return err
}

func (p *Postgres) Balance(ctx context.Context, account, asset string) (uint64, error) {
	var amount string
	err := p.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM token_balances WHERE account = $1 AND asset = $2`,
		account, asset).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s %s: %w", account, asset, err)
	}
	return strconv.ParseUint(amount, 10, 64)
}

func (p *Postgres) Apply(ctx context.Context, transfers []Transfer) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range transfers {
		if err := validate(t); err != nil {
			return err
		}
		if t.Amount == 0 {
			continue
		}
		amount := strconv.FormatUint(t.Amount, 10)

		tag, err := tx.Exec(ctx,
			`UPDATE token_balances SET amount = amount - $3::NUMERIC
			 WHERE account = $1 AND asset = $2 AND amount >= $3::NUMERIC`,
			t.From, t.Asset, amount)
		if err != nil {
			return fmt.Errorf("debit %s %s: %w", t.From, t.Asset, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s cannot cover %d %s", ErrInsufficientFunds, t.From, t.Amount, t.Asset)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO token_balances (account, asset, amount)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (account, asset) DO UPDATE SET amount = token_balances.amount + EXCLUDED.amount`,
			t.To, t.Asset, amount); err != nil {
			return fmt.Errorf("credit %s %s: %w", t.To, t.Asset, err)
		}
	}

	return tx.Commit(ctx)
}
