// Package wallet holds user balances. Every implementation applies a debit
// atomically and refuses one that would take a balance below zero.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrInvalidAmount     = errors.New("wallet: amount must be positive with at most 2 decimals")
)

type Wallet interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

func validate(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return errors.New("wallet: empty user id")
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return nil
}

func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
