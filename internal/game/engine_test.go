package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"roundhouse/internal/wallet"
)

// tokenAuth resolves "tok:<user>" credentials.
type tokenAuth struct{}

func (tokenAuth) Authenticate(_ context.Context, cred string) (string, error) {
	user, ok := strings.CutPrefix(cred, "tok:")
	if !ok || user == "" {
		return "", errors.New("invalid token")
	}
	return user, nil
}

type sent struct {
	userID string
	connID string
	ev     Event
}

type recorder struct {
	mu         sync.Mutex
	broadcasts []Event
	sends      []sent
}

func (r *recorder) Broadcast(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, ev)
}

func (r *recorder) Send(userID, connID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sent{userID: userID, connID: connID, ev: ev})
}

func (r *recorder) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.broadcasts {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) sentTo(userID, typ string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sends {
		if s.userID == userID && s.ev.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

type captureRelay struct {
	mu   sync.Mutex
	recs []RoundRecord
}

func (c *captureRelay) Submit(rec RoundRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *captureRelay) records() []RoundRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RoundRecord(nil), c.recs...)
}

// fixedCrash always crashes at point.
type fixedCrash struct {
	*CrashModel
	point float64
}

func (m fixedCrash) Begin(*rand.Rand) Reveal {
	return newClimb(m.point, m.Ceiling, m.TickInterval)
}

// fixedBoard always lands on the cell with the given id.
type fixedBoard struct {
	*BoardModel
	winner string
}

func (m fixedBoard) Begin(rng *rand.Rand) Reveal {
	c, _ := m.CellByID(m.winner)
	return m.newSweep(rng, c.Index)
}

type harness struct {
	e      *Engine
	sched  *manualScheduler
	wallet *wallet.Memory
	hub    *recorder
	relay  *captureRelay
}

func newHarness(t *testing.T, model Model, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sched:  newManualScheduler(),
		wallet: wallet.NewMemory(),
		hub:    &recorder{},
		relay:  &captureRelay{},
	}
	if cfg.BetWindow == 0 {
		cfg.BetWindow = 3 * time.Second
	}
	e, err := NewEngine(model, cfg, Deps{
		Balance: h.wallet,
		Auth:    tokenAuth{},
		Hub:     h.hub,
		Relay:   h.relay,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.sched = h.sched
	e.rng = seeded()
	h.e = e
	for _, u := range []string{"alice", "bob"} {
		h.wallet.Set(u, decimal.NewFromInt(100))
	}
	e.openAccepting()
	return h
}

func (h *harness) balance(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	b, err := h.wallet.Balance(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (h *harness) place(t *testing.T, user string, amount int64, target string) string {
	t.Helper()
	ack := h.e.placeBet(PlaceBetRequest{
		Credential: "tok:" + user,
		Amount:     decimal.NewFromInt(amount),
		Target:     target,
		ConnID:     "conn-" + user,
	})
	if !ack.OK {
		t.Fatalf("placeBet(%s, %d) = %+v", user, amount, ack)
	}
	return ack.Data.(BetReceipt).BetID
}

// resolve closes betting through the deadline task.
func (h *harness) resolve(t *testing.T) {
	t.Helper()
	h.sched.fire(t, h.e, taskDeadline)
	if h.e.phase != PhaseResolving && h.e.phase != PhaseSettling {
		t.Fatalf("phase after deadline = %s", h.e.phase)
	}
}

// finish advances the reveal until the round settles.
func (h *harness) finish(t *testing.T) {
	t.Helper()
	for i := 0; h.e.phase == PhaseResolving; i++ {
		if i > 10000 {
			t.Fatal("reveal never finished")
		}
		h.sched.fire(t, h.e, taskReveal)
	}
}

func crashAt(point float64) Model {
	return fixedCrash{CrashModel: NewCrashModel(0, 0), point: point}
}

func TestNewEngine_RequiresCollaborators(t *testing.T) {
	_, err := NewEngine(NewBoardModel(), Config{}, Deps{Balance: wallet.NewMemory()})
	if err == nil {
		t.Fatal("NewEngine() without auth, hub and relay should fail")
	}
}

func TestEngine_OpenAccepting(t *testing.T) {
	h := newHarness(t, crashAt(2), Config{})

	if h.e.phase != PhaseAccepting {
		t.Fatalf("phase = %s", h.e.phase)
	}
	if !strings.HasPrefix(h.e.roundID, "R") || !strings.HasSuffix(h.e.roundID, "-1") {
		t.Errorf("round id = %s", h.e.roundID)
	}
	if h.e.countdown != 3 {
		t.Errorf("countdown = %d, want 3", h.e.countdown)
	}
	if !h.sched.has(taskCountdown) || !h.sched.has(taskDeadline) {
		t.Errorf("pending = %+v, want countdown and deadline", h.sched.pending)
	}
	if d := h.sched.delays[taskDeadline]; d != 3*time.Second+DefaultDeadlineGrace {
		t.Errorf("deadline delay = %v", d)
	}
	if h.hub.count(EventPhaseSnapshot) != 1 || h.hub.count(EventTick) != 1 {
		t.Errorf("opening broadcasts = %+v", h.hub.broadcasts)
	}

	snap := h.e.snapshot()
	if snap.Value != 3 || snap.PhaseDeadline == 0 || snap.Outcome != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEngine_CountdownResolves(t *testing.T) {
	h := newHarness(t, crashAt(2), Config{})

	h.sched.fire(t, h.e, taskCountdown)
	h.sched.fire(t, h.e, taskCountdown)
	if h.e.phase != PhaseAccepting || h.e.countdown != 1 {
		t.Fatalf("after two ticks phase=%s countdown=%d", h.e.phase, h.e.countdown)
	}
	h.sched.fire(t, h.e, taskCountdown)
	if h.e.phase != PhaseResolving {
		t.Fatalf("phase = %s, want RESOLVING", h.e.phase)
	}
	if h.sched.has(taskDeadline) {
		t.Error("deadline should be canceled once resolving")
	}
}

func TestEngine_StaleDeadlineIgnored(t *testing.T) {
	h := newHarness(t, crashAt(5), Config{})
	stale := firing{gen: h.sched.gen, task: taskDeadline}

	for h.e.phase == PhaseAccepting {
		h.sched.fire(t, h.e, taskCountdown)
	}
	reveal := h.e.reveal
	snapshots := h.hub.count(EventPhaseSnapshot)

	h.e.handle(stale)

	if h.e.reveal != reveal {
		t.Error("stale deadline restarted the reveal")
	}
	if got := h.hub.count(EventPhaseSnapshot); got != snapshots {
		t.Errorf("stale deadline broadcast %d extra snapshots", got-snapshots)
	}
}

func TestEngine_PlaceBet(t *testing.T) {
	h := newHarness(t, crashAt(2), Config{})

	ack := h.e.placeBet(PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10), ConnID: "c1"})
	if !ack.OK {
		t.Fatalf("placeBet() = %+v", ack)
	}
	receipt := ack.Data.(BetReceipt)
	if !strings.HasPrefix(receipt.BetID, "B") {
		t.Errorf("bet id = %s", receipt.BetID)
	}
	if !receipt.NewBalance.Equal(decimal.NewFromInt(90)) || !h.balance(t, "alice").Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %s / receipt %s, want 90", h.balance(t, "alice"), receipt.NewBalance)
	}
	if got := h.e.ledger.Totals(); got.Bets != 1 {
		t.Errorf("totals = %+v", got)
	}
	if h.hub.count(EventBetPlaced) != 1 {
		t.Error("betPlaced not broadcast")
	}
	accepted := h.hub.sentTo("alice", EventBetAccepted)
	if len(accepted) != 1 || accepted[0].connID != "c1" {
		t.Errorf("betAccepted sends = %+v", accepted)
	}
}

func TestEngine_PlaceBetRejections(t *testing.T) {
	tests := []struct {
		name   string
		req    PlaceBetRequest
		model  Model
		before func(h *harness)
		want   Code
	}{
		{"below minimum", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.RequireFromString("4.99")}, crashAt(2), nil, CodeInvalidAmount},
		{"above maximum", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(50001)}, crashAt(2), nil, CodeInvalidAmount},
		{"sub-cent amount", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.RequireFromString("10.005")}, crashAt(2), nil, CodeInvalidAmount},
		{"crash target", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10), Target: "lion"}, crashAt(2), nil, CodeInvalidTarget},
		{"board unknown cell", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10), Target: "unicorn"}, NewBoardModel(), nil, CodeInvalidTarget},
		{"no credential", PlaceBetRequest{Amount: decimal.NewFromInt(10)}, crashAt(2), nil, CodeUnauthenticated},
		{"bad credential", PlaceBetRequest{Credential: "nope", Amount: decimal.NewFromInt(10)}, crashAt(2), nil, CodeUnauthenticated},
		{"insufficient funds", PlaceBetRequest{Credential: "tok:carol", Amount: decimal.NewFromInt(10)}, crashAt(2), nil, CodeInsufficientBalance},
		{"debit failure", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10)}, crashAt(2), func(h *harness) {
			h.wallet.FailNext(1, errors.New("connection reset"))
		}, CodeInternal},
		{"betting closed", PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10)}, crashAt(5), func(h *harness) {
			h.e.beginResolving()
		}, CodeNotAccepting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.model, Config{})
			if tt.before != nil {
				tt.before(h)
			}
			ack := h.e.placeBet(tt.req)
			if ack.OK || ack.Code != tt.want {
				t.Fatalf("placeBet() = %+v, want %s", ack, tt.want)
			}
			if len(h.e.ledger.bets) != 0 {
				t.Errorf("rejected bet left in ledger: %+v", h.e.ledger.bets)
			}
			if !h.balance(t, "alice").Equal(decimal.NewFromInt(100)) {
				t.Errorf("alice balance = %s, want 100", h.balance(t, "alice"))
			}
		})
	}
}

func TestEngine_CancelBet(t *testing.T) {
	h := newHarness(t, NewBoardModel(), Config{})
	betID := h.place(t, "alice", 10, "lion")

	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:bob", BetID: betID}); ack.Code != CodeForbidden {
		t.Errorf("foreign cancel = %+v, want FORBIDDEN", ack)
	}
	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice"}); ack.Code != CodeMissingBetID {
		t.Errorf("cancel without id = %+v", ack)
	}
	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice", BetID: "ZBmissing"}); ack.Code != CodeBetNotFound {
		t.Errorf("cancel unknown = %+v", ack)
	}

	ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice", BetID: betID, ConnID: "c9"})
	if !ack.OK {
		t.Fatalf("cancelBet() = %+v", ack)
	}
	if !h.balance(t, "alice").Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after refund = %s", h.balance(t, "alice"))
	}
	if h.e.ledger.Totals().Bets != 0 || h.e.ledger.TargetTotals() != nil {
		t.Errorf("ledger after cancel = %+v", h.e.ledger.Totals())
	}
	if h.hub.count(EventBetCanceled) != 1 || len(h.hub.sentTo("alice", EventBetRefunded)) != 1 {
		t.Error("cancel notifications missing")
	}

	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeBetNotFound {
		t.Errorf("second cancel = %+v, want BET_NOT_FOUND", ack)
	}
}

func TestEngine_CancelRefundFailureKeepsBet(t *testing.T) {
	h := newHarness(t, NewBoardModel(), Config{})
	betID := h.place(t, "alice", 10, "lion")

	h.wallet.FailNext(1, errors.New("timeout"))
	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeInternal {
		t.Fatalf("cancelBet() = %+v, want INTERNAL", ack)
	}
	if _, ok := h.e.ledger.Get(betID); !ok {
		t.Fatal("bet dropped although the refund failed")
	}
	if !h.balance(t, "alice").Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %s, want 90", h.balance(t, "alice"))
	}
}

func TestEngine_CancelAfterClose(t *testing.T) {
	h := newHarness(t, NewBoardModel(), Config{})
	betID := h.place(t, "alice", 10, "lion")
	h.resolve(t)

	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeNotAccepting {
		t.Errorf("cancelBet() while resolving = %+v", ack)
	}
}

func TestEngine_CashOut(t *testing.T) {
	h := newHarness(t, crashAt(5), Config{})
	betID := h.place(t, "alice", 10, "")
	loser := h.place(t, "bob", 20, "")

	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeNotResolving {
		t.Errorf("cashOut() while accepting = %+v", ack)
	}

	h.resolve(t)
	for i := 0; i < 10; i++ {
		h.sched.fire(t, h.e, taskReveal)
	}
	mult := h.e.reveal.Value()
	if mult <= 1 {
		t.Fatalf("multiplier did not climb: %v", mult)
	}

	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:bob", BetID: betID}); ack.Code != CodeForbidden {
		t.Errorf("foreign cash-out = %+v", ack)
	}

	ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID, ConnID: "c1"})
	if !ack.OK {
		t.Fatalf("cashOut() = %+v", ack)
	}
	receipt := ack.Data.(CashOutReceipt)
	want := decimal.NewFromInt(10).Mul(decimal.NewFromFloat(mult)).Round(2)
	if receipt.CashedAt != mult || !receipt.Payout.Equal(want) {
		t.Errorf("receipt = %+v, want payout %s at %v", receipt, want, mult)
	}
	if !h.balance(t, "alice").Equal(decimal.NewFromInt(90).Add(want)) {
		t.Errorf("balance = %s", h.balance(t, "alice"))
	}

	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeAlreadyResolved {
		t.Errorf("second cash-out = %+v, want ALREADY_RESOLVED", ack)
	}

	h.finish(t)
	recs := h.relay.records()
	if len(recs) != 1 {
		t.Fatalf("relay got %d records", len(recs))
	}
	rec := recs[0]
	if rec.Outcome.CrashPoint != 5 || !rec.TotalPayout.Equal(want) {
		t.Errorf("record = %+v", rec)
	}
	for _, r := range rec.Resolved {
		switch r.BetID {
		case betID:
			if !r.Win || r.CashedAt != mult {
				t.Errorf("cashed bet resolved as %+v", r)
			}
		case loser:
			if r.Win || !r.Payout.IsZero() {
				t.Errorf("open bet at crash resolved as %+v", r)
			}
		}
	}
	// the cash-out was credited once, at cash-out time
	if credits := len(h.hub.sentTo("alice", EventSettled)); credits != 0 {
		t.Errorf("settlement credited alice again (%d)", credits)
	}
}

func TestEngine_CashOutCreditFailure(t *testing.T) {
	h := newHarness(t, crashAt(5), Config{})
	betID := h.place(t, "alice", 10, "")
	h.resolve(t)

	h.wallet.FailNext(1, errors.New("timeout"))
	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeInternal {
		t.Fatalf("cashOut() = %+v, want INTERNAL", ack)
	}
	if b, _ := h.e.ledger.Get(betID); b.Status != BetOpen {
		t.Fatalf("bet status = %s, want open after failed credit", b.Status)
	}
	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); !ack.OK {
		t.Errorf("retry cashOut() = %+v", ack)
	}
}

func TestEngine_CashOutUnsupportedOnBoard(t *testing.T) {
	h := newHarness(t, NewBoardModel(), Config{})
	betID := h.place(t, "alice", 10, "lion")
	h.resolve(t)

	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeCashOutUnsupported {
		t.Errorf("cashOut() = %+v", ack)
	}
}

func TestEngine_InstantCrash(t *testing.T) {
	h := newHarness(t, crashAt(0.5), Config{})
	betID := h.place(t, "alice", 10, "")

	h.resolve(t)
	if h.e.phase != PhaseSettling {
		t.Fatalf("phase = %s, want SETTLING right away", h.e.phase)
	}
	if ack := h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: betID}); ack.Code != CodeNotResolving {
		t.Errorf("cashOut() after instant crash = %+v", ack)
	}
	snap := h.e.snapshot()
	if snap.Outcome == nil || snap.Outcome.CrashPoint != 0.5 || snap.Value != 0.5 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEngine_BoardSettlement(t *testing.T) {
	h := newHarness(t, fixedBoard{BoardModel: NewBoardModel(), winner: "fish-1"}, Config{})
	h.place(t, "alice", 10, "fish-1")
	h.place(t, "alice", 5, "lion")
	h.place(t, "bob", 10, "dragon-3")

	h.resolve(t)
	h.finish(t)

	if !h.balance(t, "alice").Equal(decimal.NewFromInt(185)) {
		t.Errorf("alice = %s, want 185", h.balance(t, "alice"))
	}
	if !h.balance(t, "bob").Equal(decimal.NewFromInt(90)) {
		t.Errorf("bob = %s, want 90", h.balance(t, "bob"))
	}
	settled := h.hub.sentTo("alice", EventSettled)
	if len(settled) != 1 {
		t.Fatalf("settled sends = %+v", settled)
	}
	s := settled[0].ev.Data.(Settled)
	if !s.Payout.Equal(decimal.NewFromInt(100)) || !s.Profit.Equal(decimal.NewFromInt(85)) || !s.NewBalance.Equal(decimal.NewFromInt(185)) {
		t.Errorf("settled = %+v", s)
	}
	if settled[0].connID != "" {
		t.Errorf("settled routed to connection %q, want every connection of the user", settled[0].connID)
	}
	if len(h.hub.sentTo("bob", EventSettled)) != 0 {
		t.Error("losing user got a settlement credit")
	}
	if h.hub.count(EventRoundResult) != 1 {
		t.Error("roundResult not broadcast")
	}
	if h.e.history.Len() != 1 {
		t.Errorf("history len = %d", h.e.history.Len())
	}
}

func TestEngine_SettlementCreditFailureContinues(t *testing.T) {
	h := newHarness(t, fixedBoard{BoardModel: NewBoardModel(), winner: "lion-1-0"}, Config{})
	h.place(t, "alice", 10, "lion")
	h.place(t, "bob", 10, "lion")
	h.resolve(t)

	// alice settles first; her credit fails, bob's still lands
	h.wallet.FailNext(1, errors.New("timeout"))
	h.finish(t)

	if !h.balance(t, "bob").Equal(decimal.NewFromInt(150)) {
		t.Errorf("bob = %s, want 150", h.balance(t, "bob"))
	}
	if len(h.relay.records()) != 1 {
		t.Error("round record not published")
	}
}

func TestEngine_Conservation(t *testing.T) {
	h := newHarness(t, crashAt(3), Config{})
	h.wallet.Set("carol", decimal.NewFromInt(100))

	a := h.place(t, "alice", 10, "")
	h.place(t, "bob", 25, "")
	c := h.place(t, "carol", 40, "")
	h.place(t, "alice", 7, "")
	canceled := h.place(t, "bob", 5, "")
	if ack := h.e.cancelBet(CancelBetRequest{Credential: "tok:bob", BetID: canceled}); !ack.OK {
		t.Fatal(ack)
	}

	h.resolve(t)
	for i := 0; i < 5; i++ {
		h.sched.fire(t, h.e, taskReveal)
	}
	h.e.cashOut(CashOutRequest{Credential: "tok:alice", BetID: a})
	for i := 0; i < 20; i++ {
		h.sched.fire(t, h.e, taskReveal)
	}
	h.e.cashOut(CashOutRequest{Credential: "tok:carol", BetID: c})
	h.finish(t)

	rec := h.relay.records()[0]
	net := decimal.Zero
	for _, op := range h.wallet.Ops() {
		net = net.Add(op.Delta)
	}
	if want := rec.TotalPayout.Sub(rec.TotalStake); !net.Equal(want) {
		t.Errorf("wallet net = %s, want payouts - stakes = %s", net, want)
	}
	if rec.TotalBets != 4 {
		t.Errorf("total bets = %d, want 4", rec.TotalBets)
	}
}

func TestEngine_NextRound(t *testing.T) {
	h := newHarness(t, crashAt(1.2), Config{})
	first := h.e.roundID
	h.place(t, "alice", 10, "")
	h.resolve(t)
	h.finish(t)

	if h.e.phase != PhaseSettling || !h.sched.has(taskNextRound) {
		t.Fatalf("phase = %s pending = %+v", h.e.phase, h.sched.pending)
	}
	if d := h.sched.delays[taskNextRound]; d != DefaultConfig(GameTypeCrash).Pause {
		t.Errorf("pause = %v", d)
	}
	h.sched.fire(t, h.e, taskNextRound)

	if h.e.phase != PhaseAccepting || h.e.roundID == first {
		t.Errorf("next round: phase=%s id=%s (was %s)", h.e.phase, h.e.roundID, first)
	}
	if h.e.ledger.Totals().Bets != 0 {
		t.Error("ledger carried into the next round")
	}
	snap := h.e.snapshot()
	if len(snap.RecentHistory) != 1 || snap.RecentHistory[0].RoundID != first {
		t.Errorf("recent history = %+v", snap.RecentHistory)
	}
}

func TestEngine_BoardSnapshot(t *testing.T) {
	h := newHarness(t, NewBoardModel(), Config{})
	if !strings.HasPrefix(h.e.roundID, "Z") {
		t.Errorf("round id = %s", h.e.roundID)
	}
	betID := h.place(t, "alice", 10, "lion")
	if !strings.HasPrefix(betID, "ZB") {
		t.Errorf("bet id = %s", betID)
	}
	snap := h.e.snapshot()
	if len(snap.Board) != 28 {
		t.Errorf("board = %d cells", len(snap.Board))
	}
	if !snap.TargetTotals["lion"].Equal(decimal.NewFromInt(10)) || len(snap.CurrentRoundBets) != 1 {
		t.Errorf("snapshot bets = %+v / %+v", snap.TargetTotals, snap.CurrentRoundBets)
	}
}

func TestEngine_Busy(t *testing.T) {
	h := newHarness(t, crashAt(2), Config{QueueSize: 1})
	h.e.cmds <- command{fn: func() Ack { return Ack{OK: true} }, reply: make(chan Ack, 1)}

	ack := h.e.PlaceBet(context.Background(), PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10)})
	if ack.Code != CodeBusy {
		t.Errorf("PlaceBet() with a full queue = %+v, want BUSY", ack)
	}
}

func TestEngine_ReplyTimeout(t *testing.T) {
	h := newHarness(t, crashAt(2), Config{ReplyTimeout: 20 * time.Millisecond})

	ack := h.e.CancelBet(context.Background(), CancelBetRequest{Credential: "tok:alice", BetID: "B1"})
	if ack.Code != CodeInternal {
		t.Errorf("CancelBet() with no loop = %+v, want INTERNAL", ack)
	}
}

func TestEngine_RunRound(t *testing.T) {
	relay := &captureRelay{}
	w := wallet.NewMemory()
	w.Set("alice", decimal.NewFromInt(100))
	model := fixedCrash{CrashModel: NewCrashModel(0, 5*time.Millisecond), point: 1.1}

	e, err := NewEngine(model, Config{
		BetWindow:         200 * time.Millisecond,
		CountdownInterval: 50 * time.Millisecond,
		Pause:             time.Second,
	}, Deps{Balance: w, Auth: tokenAuth{}, Hub: &recorder{}, Relay: relay})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	ack := e.PlaceBet(ctx, PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10)})
	if !ack.OK {
		t.Fatalf("PlaceBet() = %+v", ack)
	}
	snap, err := e.Snapshot(ctx)
	if err != nil || snap.Phase != PhaseAccepting || len(snap.CurrentRoundBets) != 1 {
		t.Fatalf("Snapshot() = %+v, %v", snap, err)
	}

	deadline := time.After(3 * time.Second)
	for len(relay.records()) == 0 {
		select {
		case <-deadline:
			t.Fatal("round never settled")
		case <-time.After(10 * time.Millisecond):
		}
	}
	rec := relay.records()[0]
	if rec.TotalBets != 1 || rec.Outcome.CrashPoint != 1.1 {
		t.Errorf("record = %+v", rec)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if ack := e.PlaceBet(context.Background(), PlaceBetRequest{Credential: "tok:alice", Amount: decimal.NewFromInt(10)}); ack.Code != CodeInternal {
		t.Errorf("PlaceBet() after stop = %+v", ack)
	}
}

type panicModel struct{ *CrashModel }

func (panicModel) Begin(*rand.Rand) Reveal { panic("outcome source failed") }

func TestEngine_RunPanicReturnsError(t *testing.T) {
	e, err := NewEngine(panicModel{NewCrashModel(0, 0)}, Config{
		BetWindow:         20 * time.Millisecond,
		CountdownInterval: 10 * time.Millisecond,
	}, Deps{Balance: wallet.NewMemory(), Auth: tokenAuth{}, Hub: &recorder{}, Relay: &captureRelay{}})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "loop panic") {
			t.Errorf("Run() = %v, want loop panic error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after panic")
	}
}
