package game

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// Cell is one box on the board. Couple cells share a Group; singles do not.
type Cell struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Group      string `json:"group,omitempty"`
	Multiplier int64  `json:"multiplier"`
	Single     bool   `json:"single"`
}

type boardRow struct {
	couples [2]string
	single  string
}

var (
	coupleMultipliers = map[string]int64{
		"lion": 6, "rabbit": 6,
		"panda": 3, "monkey": 3,
		"sparrow": 5, "eagle": 5,
		"pigeon": 2, "peacock": 2,
	}
	singleMultipliers = map[string]int64{
		"snake": 0, "fish": 10, "female": 20, "dragon": 10,
	}
	boardLayout = []boardRow{
		{couples: [2]string{"lion", "rabbit"}, single: "snake"},
		{couples: [2]string{"panda", "monkey"}, single: "fish"},
		{couples: [2]string{"sparrow", "eagle"}, single: "female"},
		{couples: [2]string{"pigeon", "peacock"}, single: "dragon"},
	}
)

const cellsPerCouple = 3

// Sweep pacing, in milliseconds.
const (
	sweepStartDelay = 240.0
	sweepMinDelay   = 95.0
	sweepMaxDelay   = 450.0
	sweepFloor      = 30 * time.Millisecond
	sweepMinTotal   = 4000.0
	sweepMaxTotal   = 8000.0
)

// BoardModel is the target-cell model.
type BoardModel struct {
	cells []Cell
	byID  map[string]int
}

func NewBoardModel() *BoardModel {
	m := &BoardModel{byID: make(map[string]int)}
	for ri, row := range boardLayout {
		for _, group := range row.couples {
			for i := 0; i < cellsPerCouple; i++ {
				m.add(Cell{
					ID:         fmt.Sprintf("%s-%d-%d", group, i+1, ri),
					Name:       group,
					Group:      group,
					Multiplier: coupleMultipliers[group],
				})
			}
		}
		m.add(Cell{
			ID:         fmt.Sprintf("%s-%d", row.single, ri),
			Name:       row.single,
			Multiplier: singleMultipliers[row.single],
			Single:     true,
		})
	}
	return m
}

func (m *BoardModel) add(c Cell) {
	c.Index = len(m.cells)
	m.byID[c.ID] = c.Index
	m.cells = append(m.cells, c)
}

func (m *BoardModel) Type() GameType { return GameTypeBoard }

func (m *BoardModel) AllowsCashOut() bool { return false }

func (m *BoardModel) Cells() []Cell {
	out := make([]Cell, len(m.cells))
	copy(out, m.cells)
	return out
}

func (m *BoardModel) CellByID(id string) (Cell, bool) {
	i, ok := m.byID[id]
	if !ok {
		return Cell{}, false
	}
	return m.cells[i], true
}

// Target accepts a cell id or a couple group key.
func (m *BoardModel) Target(raw string) (string, error) {
	if _, ok := m.byID[raw]; ok {
		return raw, nil
	}
	if _, ok := coupleMultipliers[raw]; ok {
		return raw, nil
	}
	return "", ErrInvalidTarget
}

// Wins reports whether a target matches the winning cell. Singles only pay
// on their own cell; couple cells and group keys pay on any cell of the group.
func (m *BoardModel) Wins(target string, winner Cell) bool {
	if winner.Single {
		return target == winner.ID
	}
	if target == winner.Group {
		return true
	}
	c, ok := m.CellByID(target)
	return ok && !c.Single && c.Group == winner.Group
}

func (m *BoardModel) Settle(bet *Bet, outcome Outcome) (bool, decimal.Decimal) {
	if outcome.Winner == nil || !m.Wins(bet.Target, *outcome.Winner) {
		return false, decimal.Zero
	}
	payout := bet.Stake.Mul(decimal.NewFromInt(outcome.Winner.Multiplier)).Round(2)
	// a zero-multiplier cell takes the stake even when picked
	return payout.IsPositive(), payout
}

func (m *BoardModel) Begin(rng *rand.Rand) Reveal {
	winner := rng.IntN(len(m.cells))
	return m.newSweep(rng, winner)
}

type sweep struct {
	winner Cell
	path   []int
	delays []time.Duration
	pos    int
}

func (m *BoardModel) newSweep(rng *rand.Rand, winner int) *sweep {
	total := len(m.cells)
	start := rng.IntN(total)
	loops := 1
	if rng.Float64() >= 0.5 {
		loops = 2
	}
	steps := loops*total + (winner-start+total)%total

	path := make([]int, steps+1)
	for i := range path {
		path[i] = (start + i) % total
	}
	totalMs := sweepMinTotal + rng.Float64()*(sweepMaxTotal-sweepMinTotal)
	fast := 0.3 + rng.Float64()*0.3

	return &sweep{
		winner: m.cells[winner],
		path:   path,
		delays: EasedDelays(steps, totalMs, fast),
	}
}

// EasedDelays spreads totalMs over steps: accelerating for the first fast
// fraction, then decelerating into the stop.
func EasedDelays(steps int, totalMs, fast float64) []time.Duration {
	if steps <= 0 {
		return nil
	}
	raw := make([]float64, steps)
	sum := 0.0
	for i := range raw {
		p := float64(i) / float64(steps)
		var d float64
		if p < fast {
			x := p / fast
			d = sweepStartDelay - x*x*(sweepStartDelay-sweepMinDelay)
		} else {
			x := (p - fast) / (1 - fast)
			d = sweepMinDelay + (1-math.Pow(1-x, 3))*(sweepMaxDelay-sweepMinDelay)
		}
		raw[i] = d
		sum += d
	}
	scale := totalMs / sum
	out := make([]time.Duration, steps)
	for i, d := range raw {
		out[i] = time.Duration(math.Floor(d*scale)) * time.Millisecond
		if out[i] < sweepFloor {
			out[i] = sweepFloor
		}
	}
	return out
}

func (s *sweep) Outcome() Outcome {
	w := s.winner
	return Outcome{Winner: &w}
}

func (s *sweep) Value() float64 { return float64(s.path[s.pos]) }

func (s *sweep) Done() bool { return s.pos >= len(s.path)-1 }

func (s *sweep) Delay() time.Duration {
	if s.Done() {
		return 0
	}
	return s.delays[s.pos]
}

func (s *sweep) Advance() {
	if !s.Done() {
		s.pos++
	}
}
