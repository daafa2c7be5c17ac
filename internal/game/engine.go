package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"roundhouse/internal/metrics"
	"roundhouse/internal/wallet"
)

// Balance moves money in and out of a user's account. Debit must fail with
// wallet.ErrInsufficientFunds rather than drive a balance negative.
type Balance interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Authenticator resolves a client credential to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (string, error)
}

type Broadcaster interface {
	Broadcast(ev Event)
	// Send delivers to one connection of a user, or to all of the user's
	// connections when connID is unknown.
	Send(userID, connID string, ev Event)
}

// Publisher hands finished rounds to durable storage. Submit must not block.
type Publisher interface {
	Submit(rec RoundRecord)
}

const (
	DefaultBetWindow         = 15 * time.Second
	DefaultCountdownInterval = time.Second
	DefaultDeadlineGrace     = 50 * time.Millisecond
	DefaultBalanceTimeout    = 500 * time.Millisecond
	DefaultReplyTimeout      = 5 * time.Second
	DefaultQueueSize         = 1000
)

type Config struct {
	BetWindow         time.Duration
	Pause             time.Duration
	CountdownInterval time.Duration
	DeadlineGrace     time.Duration
	BalanceTimeout    time.Duration
	ReplyTimeout      time.Duration
	MinBet            decimal.Decimal
	MaxBet            decimal.Decimal
	HistorySize       int
	SnapshotHistory   int
	QueueSize         int
}

// DefaultConfig returns the stock settings for a model.
func DefaultConfig(t GameType) Config {
	c := Config{
		BetWindow:         DefaultBetWindow,
		CountdownInterval: DefaultCountdownInterval,
		DeadlineGrace:     DefaultDeadlineGrace,
		BalanceTimeout:    DefaultBalanceTimeout,
		ReplyTimeout:      DefaultReplyTimeout,
		MinBet:            decimal.NewFromInt(5),
		MaxBet:            decimal.NewFromInt(50000),
		QueueSize:         DefaultQueueSize,
	}
	switch t {
	case GameTypeBoard:
		c.Pause = 1200 * time.Millisecond
		c.HistorySize = 50
		c.SnapshotHistory = 10
	default:
		c.Pause = 5 * time.Second
		c.HistorySize = 200
		c.SnapshotHistory = 50
	}
	return c
}

func (c Config) withDefaults(t GameType) Config {
	d := DefaultConfig(t)
	if c.BetWindow <= 0 {
		c.BetWindow = d.BetWindow
	}
	if c.Pause <= 0 {
		c.Pause = d.Pause
	}
	if c.CountdownInterval <= 0 {
		c.CountdownInterval = d.CountdownInterval
	}
	if c.DeadlineGrace <= 0 {
		c.DeadlineGrace = d.DeadlineGrace
	}
	if c.BalanceTimeout <= 0 {
		c.BalanceTimeout = d.BalanceTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	if !c.MinBet.IsPositive() {
		c.MinBet = d.MinBet
	}
	if !c.MaxBet.IsPositive() {
		c.MaxBet = d.MaxBet
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.SnapshotHistory <= 0 {
		c.SnapshotHistory = d.SnapshotHistory
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	return c
}

type Deps struct {
	Balance Balance
	Auth    Authenticator
	Hub     Broadcaster
	Relay   Publisher
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type command struct {
	fn    func() Ack
	reply chan Ack
}

// Engine runs the round cycle for one model. All round state below the
// marker is owned by the loop goroutine started by Run.
type Engine struct {
	model   Model
	cfg     Config
	balance Balance
	auth    Authenticator
	hub     Broadcaster
	relay   Publisher
	log     *zap.Logger
	metrics *metrics.Metrics

	cmds    chan command
	firings chan firing
	done    chan struct{}
	sched   scheduler
	rng     *rand.Rand
	now     func() time.Time

	// loop-owned
	ctx           context.Context
	seq           uint64
	roundID       string
	phase         Phase
	phaseStarted  time.Time
	phaseDeadline time.Time
	countdown     int
	ledger        *Ledger
	reveal        Reveal
	history       *HistoryCache
}

func NewEngine(model Model, cfg Config, deps Deps) (*Engine, error) {
	if deps.Balance == nil || deps.Auth == nil || deps.Hub == nil || deps.Relay == nil {
		return nil, errors.New("engine: balance, auth, hub and relay are required")
	}
	rng, err := NewRNG()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults(model.Type())

	e := &Engine{
		model:   model,
		cfg:     cfg,
		balance: deps.Balance,
		auth:    deps.Auth,
		hub:     deps.Hub,
		relay:   deps.Relay,
		log:     logger.Named("engine").With(zap.String("game", string(model.Type()))),
		metrics: deps.Metrics,
		cmds:    make(chan command, cfg.QueueSize),
		firings: make(chan firing, 16),
		done:    make(chan struct{}),
		rng:     rng,
		now:     time.Now,
		ctx:     context.Background(),
		ledger:  NewLedger(),
		history: NewHistoryCache(cfg.HistorySize),
	}
	e.sched = newTimerScheduler(e.firings, e.done)
	return e, nil
}

func (e *Engine) Type() GameType { return e.model.Type() }

// Run drives rounds until ctx is canceled. A panic inside the loop is
// returned as an error; the engine cannot be restarted afterwards.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			e.sched.Reset()
			err = fmt.Errorf("engine %s: loop panic: %v", e.model.Type(), r)
		}
	}()

	e.ctx = ctx
	e.log.Info("engine started")
	e.openAccepting()

	for {
		select {
		case <-ctx.Done():
			e.sched.Reset()
			e.log.Info("engine stopped", zap.String("round", e.roundID))
			return nil
		case c := <-e.cmds:
			c.reply <- e.exec(c.fn)
		case f := <-e.firings:
			e.handle(f)
		}
	}
}

func (e *Engine) PlaceBet(ctx context.Context, req PlaceBetRequest) Ack {
	return e.do(ctx, func() Ack { return e.placeBet(req) })
}

func (e *Engine) CancelBet(ctx context.Context, req CancelBetRequest) Ack {
	return e.do(ctx, func() Ack { return e.cancelBet(req) })
}

func (e *Engine) CashOut(ctx context.Context, req CashOutRequest) Ack {
	return e.do(ctx, func() Ack { return e.cashOut(req) })
}

// Snapshot returns the current round as a late joiner would see it.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	ack := e.do(ctx, func() Ack { return Ack{OK: true, Data: e.snapshot()} })
	if !ack.OK {
		return Snapshot{}, &Error{Code: ack.Code, Message: ack.Message}
	}
	return ack.Data.(Snapshot), nil
}

func (e *Engine) do(ctx context.Context, fn func() Ack) Ack {
	c := command{fn: fn, reply: make(chan Ack, 1)}
	select {
	case e.cmds <- c:
	default:
		e.metrics.Rejected(string(e.model.Type()), string(CodeBusy))
		return reject(ErrBusy)
	}

	timer := time.NewTimer(e.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case ack := <-c.reply:
		return ack
	case <-timer.C:
		// the command may still run; the caller cannot know its result
		e.log.Warn("command reply timed out")
		return rejectf(ErrInternal, "Timed out waiting for the round")
	case <-ctx.Done():
		return rejectf(ErrInternal, "Request canceled")
	case <-e.done:
		return rejectf(ErrInternal, "Round engine stopped")
	}
}

func (e *Engine) exec(fn func() Ack) Ack {
	ack := fn()
	if !ack.OK {
		e.metrics.Rejected(string(e.model.Type()), string(ack.Code))
	}
	return ack
}

func (e *Engine) handle(f firing) {
	if !e.sched.Live(f.gen) {
		return
	}
	switch f.task {
	case taskCountdown:
		if e.phase != PhaseAccepting {
			return
		}
		e.countdown--
		if e.countdown <= 0 {
			e.beginResolving()
			return
		}
		e.broadcastTick(float64(e.countdown))
		e.sched.After(e.cfg.CountdownInterval, taskCountdown)
	case taskDeadline:
		if e.phase == PhaseAccepting {
			e.beginResolving()
		}
	case taskReveal:
		if e.phase != PhaseResolving {
			return
		}
		e.reveal.Advance()
		e.broadcastTick(e.reveal.Value())
		e.continueReveal()
	case taskNextRound:
		if e.phase == PhaseSettling {
			e.openAccepting()
		}
	}
}

func (e *Engine) openAccepting() {
	e.sched.Reset()
	now := e.now()
	e.seq++
	e.roundID = fmt.Sprintf("%s%d-%d", e.roundPrefix(), now.Unix(), e.seq)
	e.phase = PhaseAccepting
	e.phaseStarted = now
	e.phaseDeadline = now.Add(e.cfg.BetWindow)
	e.countdown = int(math.Ceil(float64(e.cfg.BetWindow) / float64(e.cfg.CountdownInterval)))
	e.ledger = NewLedger()
	e.reveal = nil

	e.log.Info("round opened", zap.String("round", e.roundID))
	e.broadcastSnapshot()
	e.broadcastTick(float64(e.countdown))

	e.sched.After(e.cfg.CountdownInterval, taskCountdown)
	e.sched.After(e.cfg.BetWindow+e.cfg.DeadlineGrace, taskDeadline)
}

func (e *Engine) beginResolving() {
	e.sched.Reset()
	e.phase = PhaseResolving
	e.phaseStarted = e.now()
	e.phaseDeadline = time.Time{}
	e.reveal = e.model.Begin(e.rng)

	e.log.Info("round resolving",
		zap.String("round", e.roundID),
		zap.Int("bets", e.ledger.Totals().Bets),
	)
	e.broadcastSnapshot()
	e.broadcastTick(e.reveal.Value())
	e.continueReveal()
}

func (e *Engine) continueReveal() {
	if e.reveal.Done() {
		e.settle()
		return
	}
	e.sched.After(e.reveal.Delay(), taskReveal)
}

func (e *Engine) settle() {
	now := e.now()
	e.phase = PhaseSettling
	e.phaseStarted = now
	e.phaseDeadline = now.Add(e.cfg.Pause)

	s := Settle(e.model, e.roundID, e.reveal.Outcome(), e.ledger, now)
	for _, c := range s.Credits {
		ctx, cancel := e.ioContext()
		bal, err := e.balance.Credit(ctx, c.UserID, c.Payout)
		cancel()
		if err != nil {
			e.log.Error("settlement credit failed",
				zap.String("round", e.roundID),
				zap.String("user", c.UserID),
				zap.String("payout", c.Payout.StringFixed(2)),
				zap.Error(err),
			)
			e.metrics.CreditFailed(string(e.model.Type()))
			continue
		}
		e.hub.Send(c.UserID, "", Event{Type: EventSettled, Data: Settled{
			RoundID:    e.roundID,
			Payout:     c.Payout,
			Profit:     c.Profit(),
			NewBalance: bal,
		}})
	}

	e.history.Push(s.Record)
	e.hub.Broadcast(Event{Type: EventRoundResult, Data: RoundResult{
		RoundID:      s.Record.RoundID,
		Outcome:      s.Record.Outcome,
		ResolvedBets: s.Record.Resolved,
		Timestamp:    s.Record.Timestamp,
	}})
	e.broadcastSnapshot()
	e.relay.Submit(s.Record)
	e.metrics.RoundSettled(string(e.model.Type()), s.Record.TotalPayout.InexactFloat64())

	e.log.Info("round settled",
		zap.String("round", e.roundID),
		zap.Float64("value", e.reveal.Value()),
		zap.Int("bets", s.Record.TotalBets),
		zap.String("stake", s.Record.TotalStake.StringFixed(2)),
		zap.String("payout", s.Record.TotalPayout.StringFixed(2)),
	)
	e.sched.After(e.cfg.Pause, taskNextRound)
}

func (e *Engine) placeBet(req PlaceBetRequest) Ack {
	if e.phase != PhaseAccepting {
		return reject(ErrNotAccepting)
	}
	if !e.validAmount(req.Amount) {
		return rejectf(ErrInvalidAmount, fmt.Sprintf("Bet must be between %s and %s",
			e.cfg.MinBet.StringFixed(2), e.cfg.MaxBet.StringFixed(2)))
	}
	target, err := e.model.Target(req.Target)
	if err != nil {
		return reject(ErrInvalidTarget)
	}
	userID, ack, ok := e.authenticate(req.Credential)
	if !ok {
		return ack
	}

	bet := &Bet{
		ID:       e.betPrefix() + uuid.NewString(),
		UserID:   userID,
		ConnID:   req.ConnID,
		Stake:    req.Amount,
		Target:   target,
		PlacedAt: e.now(),
	}
	e.ledger.Reserve(bet)

	ctx, cancel := e.ioContext()
	balance, err := e.balance.Debit(ctx, userID, req.Amount)
	cancel()
	if err != nil {
		e.ledger.Rollback(bet.ID)
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return reject(ErrInsufficientBalance)
		}
		e.log.Error("debit failed", zap.String("user", userID), zap.Error(err))
		return reject(ErrInternal)
	}
	if err := e.ledger.Commit(bet.ID); err != nil {
		e.log.Error("commit reserved bet", zap.String("bet", bet.ID), zap.Error(err))
		return reject(ErrInternal)
	}

	receipt := BetReceipt{BetID: bet.ID, Amount: bet.Stake, Target: bet.Target, NewBalance: balance}
	e.hub.Broadcast(Event{Type: EventBetPlaced, Data: e.betUpdate(bet)})
	e.hub.Send(userID, req.ConnID, Event{Type: EventBetAccepted, Data: receipt})
	e.metrics.BetPlaced(string(e.model.Type()))

	e.log.Debug("bet placed",
		zap.String("round", e.roundID),
		zap.String("bet", bet.ID),
		zap.String("user", userID),
		zap.String("amount", bet.Stake.StringFixed(2)),
	)
	return Ack{OK: true, Data: receipt}
}

func (e *Engine) cancelBet(req CancelBetRequest) Ack {
	if e.phase != PhaseAccepting {
		return reject(ErrNotAccepting)
	}
	if req.BetID == "" {
		return reject(ErrMissingBetID)
	}
	bet, ok := e.ledger.Get(req.BetID)
	if !ok {
		return reject(ErrBetNotFound)
	}
	userID, ack, ok := e.authenticate(req.Credential)
	if !ok {
		return ack
	}
	if bet.UserID != userID {
		return reject(ErrForbidden)
	}

	ctx, cancel := e.ioContext()
	balance, err := e.balance.Credit(ctx, userID, bet.Stake)
	cancel()
	if err != nil {
		e.log.Error("refund failed", zap.String("bet", bet.ID), zap.Error(err))
		return reject(ErrInternal)
	}
	if _, err := e.ledger.Remove(bet.ID); err != nil {
		e.log.Error("remove refunded bet", zap.String("bet", bet.ID), zap.Error(err))
		return reject(ErrInternal)
	}

	receipt := BetReceipt{BetID: bet.ID, Amount: bet.Stake, Target: bet.Target, NewBalance: balance}
	e.hub.Broadcast(Event{Type: EventBetCanceled, Data: e.betUpdate(bet)})
	e.hub.Send(userID, req.ConnID, Event{Type: EventBetRefunded, Data: receipt})
	e.metrics.BetCanceled(string(e.model.Type()))
	return Ack{OK: true, Data: receipt}
}

func (e *Engine) cashOut(req CashOutRequest) Ack {
	if !e.model.AllowsCashOut() {
		return reject(ErrCashOutUnsupported)
	}
	if e.phase != PhaseResolving {
		return reject(ErrNotResolving)
	}
	if req.BetID == "" {
		return reject(ErrMissingBetID)
	}
	bet, ok := e.ledger.Get(req.BetID)
	if !ok {
		return reject(ErrBetNotFound)
	}
	userID, ack, ok := e.authenticate(req.Credential)
	if !ok {
		return ack
	}
	if bet.UserID != userID {
		return reject(ErrForbidden)
	}
	if _, err := e.ledger.BeginCashOut(bet.ID); err != nil {
		return reject(ErrAlreadyResolved)
	}

	mult := e.reveal.Value()
	payout := bet.Stake.Mul(decimal.NewFromFloat(mult)).Round(2)

	ctx, cancel := e.ioContext()
	balance, err := e.balance.Credit(ctx, userID, payout)
	cancel()
	if err != nil {
		e.ledger.AbortCashOut(bet.ID)
		e.log.Error("cash-out credit failed", zap.String("bet", bet.ID), zap.Error(err))
		return reject(ErrInternal)
	}
	if err := e.ledger.CompleteCashOut(bet.ID, Resolution{CashedAt: mult, Win: true, Payout: payout}); err != nil {
		e.log.Error("complete cash-out", zap.String("bet", bet.ID), zap.Error(err))
		return reject(ErrInternal)
	}

	receipt := CashOutReceipt{
		BetID:      bet.ID,
		CashedAt:   mult,
		Stake:      bet.Stake,
		Payout:     payout,
		Profit:     payout.Sub(bet.Stake),
		NewBalance: balance,
	}
	e.hub.Broadcast(Event{Type: EventCashedOut, Data: CashOutNotice{BetID: bet.ID, CashedAt: mult, Payout: payout}})
	e.hub.Send(userID, req.ConnID, Event{Type: EventCashed, Data: receipt})
	e.metrics.CashOut(string(e.model.Type()))

	e.log.Debug("cashed out",
		zap.String("round", e.roundID),
		zap.String("bet", bet.ID),
		zap.Float64("multiplier", mult),
	)
	return Ack{OK: true, Data: receipt}
}

func (e *Engine) authenticate(credential string) (string, Ack, bool) {
	if credential == "" {
		return "", reject(ErrUnauthenticated), false
	}
	ctx, cancel := e.ioContext()
	defer cancel()
	userID, err := e.auth.Authenticate(ctx, credential)
	if err != nil || userID == "" {
		return "", reject(ErrUnauthenticated), false
	}
	return userID, Ack{}, true
}

func (e *Engine) validAmount(amount decimal.Decimal) bool {
	if amount.LessThan(e.cfg.MinBet) || amount.GreaterThan(e.cfg.MaxBet) {
		return false
	}
	return amount.Equal(amount.Round(2))
}

func (e *Engine) ioContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.cfg.BalanceTimeout)
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Game:             e.model.Type(),
		RoundID:          e.roundID,
		Phase:            e.phase,
		ServerTime:       e.now().UnixMilli(),
		PhaseStartedAt:   e.phaseStarted.UnixMilli(),
		Totals:           e.ledger.Totals(),
		TargetTotals:     e.ledger.TargetTotals(),
		RecentHistory:    e.history.Recent(e.cfg.SnapshotHistory),
		CurrentRoundBets: e.ledger.Public(),
	}
	if !e.phaseDeadline.IsZero() {
		s.PhaseDeadline = e.phaseDeadline.UnixMilli()
	}
	switch e.phase {
	case PhaseAccepting:
		s.Value = float64(e.countdown)
	case PhaseResolving:
		s.Value = e.reveal.Value()
	case PhaseSettling:
		s.Value = e.reveal.Value()
		o := e.reveal.Outcome()
		s.Outcome = &o
	}
	if b, ok := e.model.(interface{ Cells() []Cell }); ok {
		s.Board = b.Cells()
	}
	return s
}

func (e *Engine) betUpdate(b *Bet) BetUpdate {
	return BetUpdate{
		Bet:          b.public(),
		Totals:       e.ledger.Totals(),
		TargetTotals: e.ledger.TargetTotals(),
	}
}

func (e *Engine) broadcastSnapshot() {
	e.hub.Broadcast(Event{Type: EventPhaseSnapshot, Data: e.snapshot()})
}

func (e *Engine) broadcastTick(v float64) {
	e.hub.Broadcast(Event{Type: EventTick, Data: Tick{Value: v, ServerTime: e.now().UnixMilli()}})
}

func (e *Engine) roundPrefix() string {
	if e.model.Type() == GameTypeBoard {
		return "Z"
	}
	return "R"
}

func (e *Engine) betPrefix() string {
	if e.model.Type() == GameTypeBoard {
		return "ZB"
	}
	return "B"
}
