package game

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// amounts travel as JSON numbers on the wire
	decimal.MarshalJSONWithoutQuotes = true
}

type Phase string

const (
	PhaseAccepting Phase = "ACCEPTING"
	PhaseResolving Phase = "RESOLVING"
	PhaseSettling  Phase = "SETTLING"
)

// Event is the envelope for everything pushed to realtime clients.
// ID correlates a reply with the client command that caused it.
type Event struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

const (
	EventPhaseSnapshot = "phaseSnapshot"
	EventTick          = "tick"
	EventBetPlaced     = "betPlaced"
	EventBetCanceled   = "betCanceled"
	EventCashedOut     = "cashedOut"
	EventRoundResult   = "roundResult"
	EventSettled       = "settled"
	EventBetAccepted   = "betAccepted"
	EventBetRefunded   = "betRefunded"
	EventCashed        = "cashed"
)

// Ack is the structured reply to every client command.
type Ack struct {
	OK      bool        `json:"ok"`
	Code    Code        `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type PlaceBetRequest struct {
	Credential string
	Amount     decimal.Decimal
	Target     string
	ConnID     string
}

type CancelBetRequest struct {
	Credential string
	BetID      string
	ConnID     string
}

type CashOutRequest struct {
	Credential string
	BetID      string
	ConnID     string
}

type Totals struct {
	Bets   int             `json:"bets"`
	Stake  decimal.Decimal `json:"stake"`
	Payout decimal.Decimal `json:"payout"`
}

// Outcome is the hidden result fixed when a round starts resolving.
type Outcome struct {
	CrashPoint float64 `json:"crashPoint,omitempty"`
	Winner     *Cell   `json:"winner,omitempty"`
}

type PublicBet struct {
	ID       string          `json:"id"`
	Amount   decimal.Decimal `json:"amount"`
	Target   string          `json:"target,omitempty"`
	CashedAt float64         `json:"cashedAt,omitempty"`
}

type Snapshot struct {
	Game             GameType                   `json:"game"`
	RoundID          string                     `json:"roundId"`
	Phase            Phase                      `json:"phase"`
	ServerTime       int64                      `json:"serverTime"`
	PhaseStartedAt   int64                      `json:"phaseStartedAt"`
	PhaseDeadline    int64                      `json:"phaseDeadline,omitempty"`
	Value            float64                    `json:"value"`
	Totals           Totals                     `json:"totals"`
	TargetTotals     map[string]decimal.Decimal `json:"targetTotals,omitempty"`
	Outcome          *Outcome                   `json:"outcome,omitempty"`
	RecentHistory    []RoundRecord              `json:"recentHistory"`
	CurrentRoundBets []PublicBet                `json:"currentRoundBets"`
	Board            []Cell                     `json:"board,omitempty"`
}

type Tick struct {
	Value      float64 `json:"value"`
	ServerTime int64   `json:"serverTime"`
}

type BetReceipt struct {
	BetID      string          `json:"betId"`
	Amount     decimal.Decimal `json:"amount"`
	Target     string          `json:"target,omitempty"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type CashOutReceipt struct {
	BetID      string          `json:"betId"`
	CashedAt   float64         `json:"cashedAt"`
	Stake      decimal.Decimal `json:"stake"`
	Payout     decimal.Decimal `json:"payout"`
	Profit     decimal.Decimal `json:"profit"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type Settled struct {
	RoundID    string          `json:"roundId"`
	Payout     decimal.Decimal `json:"payout"`
	Profit     decimal.Decimal `json:"profit"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type RoundResult struct {
	RoundID      string        `json:"roundId"`
	Outcome      Outcome       `json:"outcome"`
	ResolvedBets []ResolvedBet `json:"resolvedBets"`
	Timestamp    time.Time     `json:"timestamp"`
}

// RoundRecord is the immutable history entry of a finished round.
type RoundRecord struct {
	Game        GameType        `json:"game"`
	RoundID     string          `json:"roundId"`
	Timestamp   time.Time       `json:"timestamp"`
	Outcome     Outcome         `json:"outcome"`
	TotalBets   int             `json:"totalBets"`
	TotalStake  decimal.Decimal `json:"totalStake"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
	Resolved    []ResolvedBet   `json:"resolved"`
}

type ResolvedBet struct {
	BetID    string          `json:"betId"`
	UserID   string          `json:"userId"`
	Stake    decimal.Decimal `json:"stake"`
	Target   string          `json:"target,omitempty"`
	CashedAt float64         `json:"cashedAt,omitempty"`
	Win      bool            `json:"win"`
	Payout   decimal.Decimal `json:"payout"`
}

// BetUpdate is the public notice for a placed or canceled bet.
type BetUpdate struct {
	Bet          PublicBet                  `json:"bet"`
	Totals       Totals                     `json:"totals"`
	TargetTotals map[string]decimal.Decimal `json:"targetTotals,omitempty"`
}

// CashOutNotice is the public notice for a cash-out.
type CashOutNotice struct {
	BetID    string          `json:"betId"`
	CashedAt float64         `json:"cashedAt"`
	Payout   decimal.Decimal `json:"payout"`
}
