package wallet

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Op is one applied balance change, recorded by Memory.
type Op struct {
	UserID string
	Delta  decimal.Decimal
}

// Memory is an in-process wallet for local runs and tests. FailNext makes
// the next n calls fail with err.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	ops      []Op
	failErr  error
	failLeft int
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

func (w *Memory) Set(userID string, amount decimal.Decimal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = amount
}

func (w *Memory) FailNext(n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failLeft = n
	w.failErr = err
}

func (w *Memory) Ops() []Op {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Op, len(w.ops))
	copy(out, w.ops)
	return out
}

func (w *Memory) injected() error {
	if w.failLeft > 0 {
		w.failLeft--
		return w.failErr
	}
	return nil
}

func (w *Memory) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return decimal.Zero, err
	}
	bal := w.balances[userID]
	if bal.LessThan(amount) {
		return bal, ErrInsufficientFunds
	}
	bal = bal.Sub(amount)
	w.balances[userID] = bal
	w.ops = append(w.ops, Op{UserID: userID, Delta: amount.Neg()})
	return bal, nil
}

func (w *Memory) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validate(userID, amount); err != nil {
		return decimal.Zero, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.injected(); err != nil {
		return decimal.Zero, err
	}
	bal := w.balances[userID].Add(amount)
	w.balances[userID] = bal
	w.ops = append(w.ops, Op{UserID: userID, Delta: amount})
	return bal, nil
}

func (w *Memory) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID], nil
}
