package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"roundhouse/internal/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rounds (
    round_id     TEXT PRIMARY KEY,
    game         TEXT NOT NULL,
    outcome      TEXT NOT NULL,
    total_bets   INTEGER NOT NULL DEFAULT 0,
    total_stake  TEXT NOT NULL,
    total_payout TEXT NOT NULL,
    resolved     TEXT NOT NULL,
    played_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rounds_game_played ON rounds (game, played_at_ms DESC);

CREATE TABLE IF NOT EXISTS user_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id       TEXT NOT NULL,
    game          TEXT NOT NULL,
    round_id      TEXT NOT NULL,
    bet_id        TEXT NOT NULL,
    stake         TEXT NOT NULL,
    result        TEXT NOT NULL,
    amount        TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    UNIQUE (round_id, bet_id)
);
CREATE INDEX IF NOT EXISTS idx_user_history_user ON user_history (user_id, created_at_ms DESC, id DESC);
`

// SQLite is a single-file store for local runs and tests.
type SQLite struct {
	db         *sql.DB
	historyCap int
}

func OpenSQLite(path string, historyCap int) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}
	if historyCap < 1 {
		historyCap = DefaultHistoryCap
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{`PRAGMA busy_timeout = 5000;`, `PRAGMA journal_mode = WAL;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db, historyCap: historyCap}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) SaveRound(ctx context.Context, rec game.RoundRecord) (bool, error) {
	outcome, err := json.Marshal(rec.Outcome)
	if err != nil {
		return false, fmt.Errorf("encode outcome: %w", err)
	}
	resolved, err := json.Marshal(rec.Resolved)
	if err != nil {
		return false, fmt.Errorf("encode resolved bets: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO rounds (round_id, game, outcome, total_bets, total_stake, total_payout, resolved, played_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (round_id) DO NOTHING`,
		rec.RoundID, string(rec.Game), string(outcome), rec.TotalBets,
		rec.TotalStake.StringFixed(2), rec.TotalPayout.StringFixed(2), string(resolved), rec.Timestamp.UTC().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert round %s: %w", rec.RoundID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) AppendHistory(ctx context.Context, rec game.RoundRecord) error {
	entries := EntriesFor(rec)
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO user_history (user_id, game, round_id, bet_id, stake, result, amount, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (round_id, bet_id) DO NOTHING`,
			e.UserID, string(e.Game), e.RoundID, e.BetID,
			e.Stake.StringFixed(2), e.Result, e.Amount.StringFixed(2), e.CreatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert history %s/%s: %w", e.RoundID, e.BetID, err)
		}
	}
	for _, user := range usersOf(entries) {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM user_history
WHERE user_id = ? AND id NOT IN (
    SELECT id FROM user_history WHERE user_id = ?
    ORDER BY created_at_ms DESC, id DESC LIMIT ?
)`, user, user, s.historyCap); err != nil {
			return fmt.Errorf("trim history %s: %w", user, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ListRounds(ctx context.Context, gameType game.GameType, page, limit int) (Page, error) {
	page, limit = normalizePage(page, limit)
	out := Page{Page: page, Limit: limit, Rounds: []game.RoundRecord{}}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rounds WHERE (? = '' OR game = ?)`, string(gameType), string(gameType),
	).Scan(&out.Total); err != nil {
		return Page{}, fmt.Errorf("count rounds: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT round_id, game, outcome, total_bets, total_stake, total_payout, resolved, played_at_ms
FROM rounds WHERE (? = '' OR game = ?)
ORDER BY played_at_ms DESC, round_id DESC
LIMIT ? OFFSET ?`, string(gameType), string(gameType), limit, (page-1)*limit)
	if err != nil {
		return Page{}, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanSQLiteRound(rows)
		if err != nil {
			return Page{}, err
		}
		out.Rounds = append(out.Rounds, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) GetRound(ctx context.Context, roundID string) (game.RoundRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT round_id, game, outcome, total_bets, total_stake, total_payout, resolved, played_at_ms
FROM rounds WHERE round_id = ?`, roundID)
	rec, err := scanSQLiteRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return game.RoundRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLite) UserHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit < 1 || limit > s.historyCap {
		limit = s.historyCap
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, game, round_id, bet_id, stake, result, amount, created_at_ms
FROM user_history WHERE user_id = ?
ORDER BY created_at_ms DESC, id DESC LIMIT ?`, userID, limit)
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
			createdMs     int64
		)
		if err := rows.Scan(&e.UserID, &gameType, &e.RoundID, &e.BetID, &stake, &e.Result, &amount, &createdMs); err != nil {
			return nil, err
		}
		e.Game = game.GameType(gameType)
		e.CreatedAt = time.UnixMilli(createdMs).UTC()
		if e.Stake, err = decimal.NewFromString(stake); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRound(row rowScanner) (game.RoundRecord, error) {
	var (
		rec               game.RoundRecord
		gameType          string
		outcome, resolved string
		stake, payout     string
		playedMs          int64
	)
	if err := row.Scan(&rec.RoundID, &gameType, &outcome, &rec.TotalBets, &stake, &payout, &resolved, &playedMs); err != nil {
		return game.RoundRecord{}, err
	}
	return decodeRound(rec, gameType, []byte(outcome), []byte(resolved), stake, payout, time.UnixMilli(playedMs))
}
