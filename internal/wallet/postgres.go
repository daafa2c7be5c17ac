package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres keeps balances in the wallets table. The conditional UPDATE holds
// the row lock, so concurrent debits for one user serialize.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const (
	debitSQL = `
UPDATE wallets
SET balance = balance - $2::numeric, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2::numeric
RETURNING balance::text`

	creditSQL = `
INSERT INTO wallets (user_id, balance) VALUES ($1, $2::numeric)
ON CONFLICT (user_id) DO UPDATE
SET balance = wallets.balance + EXCLUDED.balance, updated_at = NOW()
RETURNING balance::text`

	balanceSQL = `SELECT balance::text FROM wallets WHERE user_id = $1`
)

func (w *Postgres) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	bal, err := w.scan(ctx, debitSQL, userID, amount.StringFixed(2))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, berr := w.Balance(ctx, userID)
		if berr != nil {
			return decimal.Zero, berr
		}
		return cur, ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres debit %s: %w", userID, err)
	}
	return bal, nil
}

func (w *Postgres) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	bal, err := w.scan(ctx, creditSQL, userID, amount.StringFixed(2))
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres credit %s: %w", userID, err)
	}
	return bal, nil
}

func (w *Postgres) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := w.scan(ctx, balanceSQL, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres balance %s: %w", userID, err)
	}
	return bal, nil
}

func (w *Postgres) scan(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	var raw string
	if err := w.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}
