package game

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameTypeCrash GameType = "crash"
	GameTypeBoard GameType = "board"
)

// Model is the pluggable outcome model an Engine runs.
type Model interface {
	Type() GameType
	// Target normalizes a bet target, rejecting unknown ones.
	Target(raw string) (string, error)
	// Begin draws the hidden outcome and returns its presentation sequence.
	Begin(rng *rand.Rand) Reveal
	AllowsCashOut() bool
	// Settle resolves a bet that had no cash-out against the fixed outcome.
	Settle(bet *Bet, outcome Outcome) (win bool, payout decimal.Decimal)
}

// Reveal paces the visible part of RESOLVING. The outcome is fixed when the
// Reveal is created; advancing it never changes Outcome().
type Reveal interface {
	Outcome() Outcome
	Value() float64
	Done() bool
	// Delay is the wait before the next Advance.
	Delay() time.Duration
	Advance()
}

type Bucket struct {
	Threshold float64
	Min       float64
	Max       float64
}

var DefaultBuckets = []Bucket{
	{Threshold: 0.30, Min: 0, Max: 1},
	{Threshold: 0.60, Min: 1, Max: 3},
	{Threshold: 0.80, Min: 3, Max: 7},
	{Threshold: 0.90, Min: 7, Max: 20},
	{Threshold: 1.00, Min: 20, Max: 40},
}

const (
	DefaultCeiling      = 40.0
	DefaultTickInterval = 100 * time.Millisecond
	startMultiplier     = 1.0
)

// CrashModel is the multiplier-climb model.
type CrashModel struct {
	Buckets      []Bucket
	Ceiling      float64
	TickInterval time.Duration
}

func NewCrashModel(ceiling float64, tick time.Duration) *CrashModel {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	return &CrashModel{Buckets: DefaultBuckets, Ceiling: ceiling, TickInterval: tick}
}

func (m *CrashModel) Type() GameType { return GameTypeCrash }

func (m *CrashModel) AllowsCashOut() bool { return true }

func (m *CrashModel) Target(raw string) (string, error) {
	if raw != "" {
		return "", ErrInvalidTarget
	}
	return "", nil
}

// BucketFor maps a uniform draw on [0,1) to its bucket index.
func (m *CrashModel) BucketFor(p float64) int {
	for i, b := range m.Buckets {
		if p < b.Threshold {
			return i
		}
	}
	return len(m.Buckets) - 1
}

// Draw returns a crash point and the bucket it was drawn from.
func (m *CrashModel) Draw(rng *rand.Rand) (float64, int) {
	idx := m.BucketFor(rng.Float64())
	b := m.Buckets[idx]
	v := round2(rng.Float64()*(b.Max-b.Min) + b.Min)
	return math.Min(v, m.Ceiling), idx
}

func (m *CrashModel) Begin(rng *rand.Rand) Reveal {
	crash, _ := m.Draw(rng)
	return newClimb(crash, m.Ceiling, m.TickInterval)
}

func (m *CrashModel) Settle(bet *Bet, outcome Outcome) (bool, decimal.Decimal) {
	// open bets at the crash never cashed out
	return false, decimal.Zero
}

// NextMultiplier is the deterministic climb step.
func NextMultiplier(current, ceiling float64) float64 {
	next := round2(current*1.02 + 0.01)
	if next > ceiling {
		next = ceiling
	}
	return next
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type climb struct {
	crash    float64
	ceiling  float64
	current  float64
	interval time.Duration
	done     bool
}

func newClimb(crash, ceiling float64, interval time.Duration) *climb {
	c := &climb{crash: crash, ceiling: ceiling, interval: interval, current: startMultiplier}
	if crash <= startMultiplier {
		// instant crash: the counter never climbs
		c.current = crash
		c.done = true
	}
	return c
}

func (c *climb) Outcome() Outcome { return Outcome{CrashPoint: c.crash} }

func (c *climb) Value() float64 { return c.current }

func (c *climb) Done() bool { return c.done }

func (c *climb) Delay() time.Duration { return c.interval }

func (c *climb) Advance() {
	if c.done {
		return
	}
	next := NextMultiplier(c.current, c.ceiling)
	if next >= c.crash {
		next = c.crash
		c.done = true
	}
	c.current = next
}
