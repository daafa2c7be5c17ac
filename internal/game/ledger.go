package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type BetStatus string

const (
	BetReserved BetStatus = "reserved"
	BetOpen     BetStatus = "open"
	BetCashing  BetStatus = "cashing"
	BetResolved BetStatus = "resolved"
)

type Resolution struct {
	CashedAt float64
	Win      bool
	Payout   decimal.Decimal
}

type Bet struct {
	ID         string
	UserID     string
	ConnID     string
	Stake      decimal.Decimal
	Target     string
	PlacedAt   time.Time
	Status     BetStatus
	Resolution *Resolution
}

func (b *Bet) public() PublicBet {
	pb := PublicBet{ID: b.ID, Amount: b.Stake, Target: b.Target}
	if b.Resolution != nil {
		pb.CashedAt = b.Resolution.CashedAt
	}
	return pb
}

// Ledger holds one round's wagers. Balance I/O happens between a Reserve and
// its Commit/Rollback so a failed debit never leaves a bet behind.
type Ledger struct {
	bets     map[string]*Bet
	order    []string
	totals   Totals
	byTarget map[string]decimal.Decimal
}

func NewLedger() *Ledger {
	return &Ledger{
		bets:     make(map[string]*Bet),
		byTarget: make(map[string]decimal.Decimal),
		totals:   Totals{Stake: decimal.Zero, Payout: decimal.Zero},
	}
}

// Reserve holds a slot for a bet whose stake has not been debited yet.
// Reserved bets are invisible to totals and listings.
func (l *Ledger) Reserve(b *Bet) {
	b.Status = BetReserved
	b.Resolution = nil
	l.bets[b.ID] = b
}

func (l *Ledger) Commit(id string) error {
	b, ok := l.bets[id]
	if !ok || b.Status != BetReserved {
		return ErrBetNotFound
	}
	b.Status = BetOpen
	l.order = append(l.order, id)
	l.totals.Bets++
	l.totals.Stake = l.totals.Stake.Add(b.Stake)
	if b.Target != "" {
		l.byTarget[b.Target] = l.byTarget[b.Target].Add(b.Stake)
	}
	return nil
}

func (l *Ledger) Rollback(id string) {
	if b, ok := l.bets[id]; ok && b.Status == BetReserved {
		delete(l.bets, id)
	}
}

// Get returns a committed bet.
func (l *Ledger) Get(id string) (*Bet, bool) {
	b, ok := l.bets[id]
	if !ok || b.Status == BetReserved {
		return nil, false
	}
	return b, true
}

// Remove drops an open bet after its stake was refunded.
func (l *Ledger) Remove(id string) (*Bet, error) {
	b, ok := l.Get(id)
	if !ok {
		return nil, ErrBetNotFound
	}
	if b.Status != BetOpen {
		return nil, ErrAlreadyResolved
	}
	delete(l.bets, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	l.totals.Bets--
	l.totals.Stake = l.totals.Stake.Sub(b.Stake)
	if b.Target != "" {
		left := l.byTarget[b.Target].Sub(b.Stake)
		if left.IsZero() {
			delete(l.byTarget, b.Target)
		} else {
			l.byTarget[b.Target] = left
		}
	}
	return b, nil
}

// BeginCashOut locks an open bet while its payout is credited.
func (l *Ledger) BeginCashOut(id string) (*Bet, error) {
	b, ok := l.Get(id)
	if !ok {
		return nil, ErrBetNotFound
	}
	if b.Status != BetOpen {
		return nil, ErrAlreadyResolved
	}
	b.Status = BetCashing
	return b, nil
}

func (l *Ledger) AbortCashOut(id string) {
	if b, ok := l.bets[id]; ok && b.Status == BetCashing {
		b.Status = BetOpen
	}
}

func (l *Ledger) CompleteCashOut(id string, res Resolution) error {
	b, ok := l.bets[id]
	if !ok || b.Status != BetCashing {
		return ErrBetNotFound
	}
	l.resolve(b, res)
	return nil
}

// Resolve settles an open bet. A bet resolves exactly once.
func (l *Ledger) Resolve(id string, res Resolution) error {
	b, ok := l.Get(id)
	if !ok {
		return ErrBetNotFound
	}
	if b.Status != BetOpen {
		return ErrAlreadyResolved
	}
	l.resolve(b, res)
	return nil
}

func (l *Ledger) resolve(b *Bet, res Resolution) {
	r := res
	b.Resolution = &r
	b.Status = BetResolved
	l.totals.Payout = l.totals.Payout.Add(res.Payout)
}

// Bets lists committed bets in placement order.
func (l *Ledger) Bets() []*Bet {
	out := make([]*Bet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.bets[id])
	}
	return out
}

func (l *Ledger) Public() []PublicBet {
	out := make([]PublicBet, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.bets[id].public())
	}
	return out
}

func (l *Ledger) Totals() Totals { return l.totals }

func (l *Ledger) TargetTotals() map[string]decimal.Decimal {
	if len(l.byTarget) == 0 {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(l.byTarget))
	for k, v := range l.byTarget {
		out[k] = v
	}
	return out
}
