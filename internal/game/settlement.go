package game

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// UserCredit is one user's aggregated settlement payout. It is delivered to
// every connection of the user, not only the ones that placed bets.
type UserCredit struct {
	UserID string
	Stake  decimal.Decimal
	Payout decimal.Decimal
}

func (c UserCredit) Profit() decimal.Decimal { return c.Payout.Sub(c.Stake) }

type Settlement struct {
	Record  RoundRecord
	Credits []UserCredit
}

// Settle resolves every open bet in the ledger against the outcome and builds
// the round record. Bets already resolved by cash-out are carried over as-is;
// their payout was credited when they cashed out and is not repeated here.
func Settle(m Model, roundID string, outcome Outcome, l *Ledger, now time.Time) Settlement {
	byUser := make(map[string]*UserCredit)
	resolved := make([]ResolvedBet, 0, len(l.order))

	for _, b := range l.Bets() {
		if b.Status == BetOpen {
			win, payout := m.Settle(b, outcome)
			_ = l.Resolve(b.ID, Resolution{Win: win, Payout: payout})

			uc, ok := byUser[b.UserID]
			if !ok {
				uc = &UserCredit{UserID: b.UserID, Stake: decimal.Zero, Payout: decimal.Zero}
				byUser[b.UserID] = uc
			}
			uc.Stake = uc.Stake.Add(b.Stake)
			uc.Payout = uc.Payout.Add(payout)
		}

		res := b.Resolution
		if res == nil {
			continue
		}
		resolved = append(resolved, ResolvedBet{
			BetID:    b.ID,
			UserID:   b.UserID,
			Stake:    b.Stake,
			Target:   b.Target,
			CashedAt: res.CashedAt,
			Win:      res.Win,
			Payout:   res.Payout,
		})
	}

	credits := make([]UserCredit, 0, len(byUser))
	for _, uc := range byUser {
		if uc.Payout.IsPositive() {
			credits = append(credits, *uc)
		}
	}
	sort.Slice(credits, func(i, j int) bool { return credits[i].UserID < credits[j].UserID })

	totals := l.Totals()
	return Settlement{
		Record: RoundRecord{
			Game:        m.Type(),
			RoundID:     roundID,
			Timestamp:   now.UTC(),
			Outcome:     outcome,
			TotalBets:   totals.Bets,
			TotalStake:  totals.Stake,
			TotalPayout: totals.Payout,
			Resolved:    resolved,
		},
		Credits: credits,
	}
}
