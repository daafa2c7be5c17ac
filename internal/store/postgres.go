package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"roundhouse/internal/game"
)

// Postgres stores rounds in the schema created by the migrations package.
type Postgres struct {
	pool       *pgxpool.Pool
	historyCap int
}

func NewPostgres(pool *pgxpool.Pool, historyCap int) *Postgres {
	if historyCap < 1 {
		historyCap = DefaultHistoryCap
	}
	return &Postgres{pool: pool, historyCap: historyCap}
}

func (s *Postgres) SaveRound(ctx context.Context, rec game.RoundRecord) (bool, error) {
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return false, fmt.Errorf("encode outcome: %w", err)
	}
	resolved, err := json.Marshal(rec.Resolved)
	if err != nil {
		return false, fmt.Errorf("encode resolved bets: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO rounds (round_id, game, outcome, total_bets, total_stake, total_payout, resolved, played_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)
ON CONFLICT (round_id) DO NOTHING`,
		rec.RoundID, string(rec.Game), outcome, rec.TotalBets,
		rec.TotalStake.StringFixed(2), rec.TotalPayout.StringFixed(2), resolved, rec.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert round %s: %w", rec.RoundID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) AppendHistory(ctx context.Context, rec game.RoundRecord) error {
	entries := EntriesFor(rec)
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
INSERT INTO user_history (user_id, game, round_id, bet_id, stake, result, amount, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8)
ON CONFLICT (round_id, bet_id) DO NOTHING`,
			e.UserID, string(e.Game), e.RoundID, e.BetID,
			e.Stake.StringFixed(2), e.Result, e.Amount.StringFixed(2), e.CreatedAt,
		)
	}
	for _, user := range usersOf(entries) {
		batch.Queue(`
DELETE FROM user_history
WHERE user_id = $1 AND id NOT IN (
    SELECT id FROM user_history WHERE user_id = $1
    ORDER BY created_at DESC, id DESC LIMIT $2
)`, user, s.historyCap)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append history %s: %w", rec.RoundID, err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListRounds(ctx context.Context, gameType game.GameType, page, limit int) (Page, error) {
	page, limit = normalizePage(page, limit)
	out := Page{Page: page, Limit: limit, Rounds: []game.RoundRecord{}}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rounds WHERE ($1 = '' OR game = $1)`, string(gameType),
	).Scan(&out.Total); err != nil {
		return Page{}, fmt.Errorf("count rounds: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT round_id, game, outcome, total_bets, total_stake::text, total_payout::text, resolved, played_at
FROM rounds WHERE ($1 = '' OR game = $1)
ORDER BY played_at DESC, round_id DESC
LIMIT $2 OFFSET $3`, string(gameType), limit, (page-1)*limit)
	if err != nil {
		return Page{}, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRound(rows)
		if err != nil {
			return Page{}, err
		}
		out.Rounds = append(out.Rounds, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) GetRound(ctx context.Context, roundID string) (game.RoundRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT round_id, game, outcome, total_bets, total_stake::text, total_payout::text, resolved, played_at
FROM rounds WHERE round_id = $1`, roundID)
	rec, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.RoundRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *Postgres) UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit < 1 || limit > s.historyCap {
		limit = s.historyCap
	}
	rows, err := s.pool.Query(ctx, `
SELECT user_id, game, round_id, bet_id, stake::text, result, amount::text, created_at
FROM user_history WHERE user_id = $1
ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user history: %w", err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var (
			e             HistoryEntry
			gameType      string
			stake, amount string
		)
		if err := rows.Scan(&e.UserID, &gameType, &e.RoundID, &e.BetID, &stake, &e.Result, &amount, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Game = game.GameType(gameType)
		if e.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error { return nil }

func scanRound(row pgx.Row) (game.RoundRecord, error) {
	var (
		rec               game.RoundRecord
		gameType          string
		outcome, resolved []byte
		stake, payout     string
		playedAt          time.Time
	)
	if err := row.Scan(&rec.RoundID, &gameType, &outcome, &rec.TotalBets, &stake, &payout, &resolved, &playedAt); err != nil {
		return game.RoundRecord{}, err
	}
	return decodeRound(rec, gameType, outcome, resolved, stake, payout, playedAt)
}

func decodeRound(rec game.RoundRecord, gameType string, outcome, resolved []byte, stake, payout string, playedAt time.Time) (game.RoundRecord, error) {
	var err error
	rec.Game = game.GameType(gameType)
	rec.Timestamp = playedAt.UTC()
	if err = json.Unmarshal(outcome, &rec.Outcome); err != nil {
		return game.RoundRecord{}, fmt.Errorf("decode outcome: %w", err)
	}
	if err = json.Unmarshal(resolved, &rec.Resolved); err != nil {
		return game.RoundRecord{}, fmt.Errorf("decode resolved bets: %w", err)
	}
	if rec.TotalStake, err = decimal.NewFromString(stake); err != nil {
		return game.RoundRecord{}, err
	}
	if rec.TotalPayout, err = decimal.NewFromString(payout); err != nil {
		return game.RoundRecord{}, err
	}
	return rec, nil
}
