// Package store is the durable home of finished rounds and per-user bet
// history. Writes are idempotent: rounds on round id, history entries on
// round id plus bet id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"roundhouse/internal/game"
)

var ErrNotFound = errors.New("store: not found")

const (
	DefaultHistoryCap = 50
	MaxPageSize       = 50

	ResultWin  = "Win"
	ResultLoss = "Loss"
)

// HistoryEntry is one bet in a user's rolling history. Amount is the payout
// on a win and the negated stake on a loss.
type HistoryEntry struct {
	UserID    string          `json:"userId"`
	Game      game.GameType   `json:"game"`
	RoundID   string          `json:"roundId"`
	BetID     string          `json:"betId"`
	Stake     decimal.Decimal `json:"stake"`
	Result    string          `json:"result"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Page struct {
	Rounds []game.RoundRecord `json:"rounds"`
	Total  int                `json:"total"`
	Page   int                `json:"page"`
	Limit  int                `json:"limit"`
}

type Store interface {
	SaveRound(ctx context.Context, rec game.RoundRecord) (bool, error)
	AppendHistory(ctx context.Context, rec game.RoundRecord) error
	ListRounds(ctx context.Context, gameType game.GameType, page, limit int) (Page, error)
	GetRound(ctx context.Context, roundID string) (game.RoundRecord, error)
	UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
	Close() error
}

// EntriesFor expands a round into history entries, one per resolved bet.
func EntriesFor(rec game.RoundRecord) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(rec.Resolved))
	for _, b := range rec.Resolved {
		e := HistoryEntry{
			UserID:    b.UserID,
			Game:      rec.Game,
			RoundID:   rec.RoundID,
			BetID:     b.BetID,
			Stake:     b.Stake,
			CreatedAt: rec.Timestamp,
		}
		if b.Win {
			e.Result = ResultWin
			e.Amount = b.Payout
		} else {
			e.Result = ResultLoss
			e.Amount = b.Stake.Neg()
		}
		out = append(out, e)
	}
	return out
}

// usersOf lists the distinct users in entries, in first-seen order.
func usersOf(entries []HistoryEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range entries {
		if !seen[e.UserID] {
			seen[e.UserID] = true
			out = append(out, e.UserID)
		}
	}
	return out
}

// normalizePage clamps paging input to 1-based pages of 1..MaxPageSize.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
