package game

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func commit(t *testing.T, l *Ledger, b *Bet) {
	t.Helper()
	l.Reserve(b)
	if err := l.Commit(b.ID); err != nil {
		t.Fatal(err)
	}
}

func TestSettle_Crash(t *testing.T) {
	m := NewCrashModel(0, 0)
	l := NewLedger()
	commit(t, l, newBet("b1", "u1", 10, ""))
	commit(t, l, newBet("b2", "u2", 20, ""))
	commit(t, l, newBet("b3", "u1", 5, ""))

	l.BeginCashOut("b1")
	l.CompleteCashOut("b1", Resolution{CashedAt: 1.5, Win: true, Payout: decimal.NewFromInt(15)})

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := Settle(m, "R1-1", Outcome{CrashPoint: 1.8}, l, now)

	if len(s.Credits) != 0 {
		t.Errorf("crash settlement credits = %+v, want none", s.Credits)
	}
	rec := s.Record
	if rec.RoundID != "R1-1" || rec.Game != GameTypeCrash || !rec.Timestamp.Equal(now) {
		t.Errorf("record header = %+v", rec)
	}
	if rec.TotalBets != 3 || !rec.TotalStake.Equal(decimal.NewFromInt(35)) {
		t.Errorf("totals = %d / %s", rec.TotalBets, rec.TotalStake)
	}
	if !rec.TotalPayout.Equal(decimal.NewFromInt(15)) {
		t.Errorf("total payout = %s, want 15", rec.TotalPayout)
	}
	if len(rec.Resolved) != 3 {
		t.Fatalf("resolved = %d, want 3", len(rec.Resolved))
	}
	if r := rec.Resolved[0]; !r.Win || r.CashedAt != 1.5 {
		t.Errorf("cashed-out bet = %+v", r)
	}
	for _, r := range rec.Resolved[1:] {
		if r.Win || !r.Payout.IsZero() {
			t.Errorf("open bet at crash should lose: %+v", r)
		}
	}
	for _, b := range l.Bets() {
		if b.Status != BetResolved {
			t.Errorf("bet %s left %s", b.ID, b.Status)
		}
	}
}

func TestSettle_BoardAggregatesPerUser(t *testing.T) {
	m := NewBoardModel()
	winner, _ := m.CellByID("panda-2-1")
	l := NewLedger()
	commit(t, l, &Bet{ID: "b1", UserID: "u1", ConnID: "c1", Stake: decimal.NewFromInt(10), Target: "panda"})
	commit(t, l, &Bet{ID: "b2", UserID: "u1", ConnID: "c1", Stake: decimal.NewFromInt(5), Target: "panda-1-1"})
	commit(t, l, &Bet{ID: "b3", UserID: "u2", Stake: decimal.NewFromInt(10), Target: "monkey"})
	commit(t, l, &Bet{ID: "b4", UserID: "u1", Stake: decimal.NewFromInt(7), Target: "lion"})

	s := Settle(m, "Z1-1", Outcome{Winner: &winner}, l, time.Now())

	if len(s.Credits) != 1 {
		t.Fatalf("credits = %+v, want one for u1", s.Credits)
	}
	c := s.Credits[0]
	if c.UserID != "u1" || !c.Payout.Equal(decimal.NewFromInt(45)) {
		t.Errorf("credit = %+v, want u1 paid 45", c)
	}
	if !c.Stake.Equal(decimal.NewFromInt(22)) || !c.Profit().Equal(decimal.NewFromInt(23)) {
		t.Errorf("stake/profit = %s/%s, want 22/23", c.Stake, c.Profit())
	}
	if !s.Record.TotalPayout.Equal(decimal.NewFromInt(45)) {
		t.Errorf("total payout = %s", s.Record.TotalPayout)
	}
}
