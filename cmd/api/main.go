package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"roundhouse/internal/auth"
	"roundhouse/internal/cache"
	"roundhouse/internal/config"
	"roundhouse/internal/database"
	"roundhouse/internal/game"
	"roundhouse/internal/logger"
	"roundhouse/internal/metrics"
	"roundhouse/internal/relay"
	"roundhouse/internal/server"
	"roundhouse/internal/store"
	"roundhouse/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("api exited", zap.Error(err))
	}
}

// backends holds the connections opened on demand by the configured drivers.
type backends struct {
	redis  cache.Service
	db     database.Service
	checks map[string]server.HealthChecker
}

func (b *backends) close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func (b *backends) needRedis(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.Service, error) {
	if b.redis == nil {
		svc, err := cache.New(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		b.redis = svc
		b.checks["redis"] = svc
	}
	return b.redis, nil
}

func (b *backends) needPostgres(ctx context.Context, cfg config.Config, log *zap.Logger) (database.Service, error) {
	if b.db == nil {
		svc, err := database.New(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		b.db = svc
		b.checks["database"] = svc
	}
	return b.db, nil
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	b := &backends{checks: make(map[string]server.HealthChecker)}
	defer b.close()

	bal, err := openWallet(ctx, cfg, b, log)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg, b, log)
	if err != nil {
		return err
	}
	defer queue.Close()
	st, err := openStore(ctx, cfg, b, log)
	if err != nil {
		return err
	}
	defer st.Close()

	rel := relay.New(queue, relay.Options{
		Buffer:      cfg.Relay.Buffer,
		MaxAttempts: cfg.Relay.MaxAttempts,
		Backoff:     cfg.Relay.Backoff,
	}, log, m)

	authenticator := auth.NewJWT(cfg.Auth.JWTSecret)
	registry := game.NewRegistry(log)

	crashCfg := game.DefaultConfig(game.GameTypeCrash)
	crashCfg.BetWindow = cfg.Crash.BetWindow
	crashCfg.Pause = cfg.Crash.Pause
	crashCfg.BalanceTimeout = cfg.Wallet.Timeout
	crashCfg.MinBet = decimal.NewFromFloat(cfg.Crash.MinBet)
	crashCfg.MaxBet = decimal.NewFromFloat(cfg.Crash.MaxBet)
	crashCfg.HistorySize = cfg.Crash.HistorySize
	if err := addGame(registry, game.NewCrashModel(cfg.Crash.Ceiling, cfg.Crash.TickInterval), crashCfg, bal, authenticator, rel, log, m); err != nil {
		return err
	}

	boardCfg := game.DefaultConfig(game.GameTypeBoard)
	boardCfg.BetWindow = cfg.Board.BetWindow
	boardCfg.Pause = cfg.Board.Pause
	boardCfg.BalanceTimeout = cfg.Wallet.Timeout
	boardCfg.MinBet = decimal.NewFromFloat(cfg.Board.MinBet)
	boardCfg.MaxBet = decimal.NewFromFloat(cfg.Board.MaxBet)
	boardCfg.HistorySize = cfg.Board.HistorySize
	if err := addGame(registry, game.NewBoardModel(), boardCfg, bal, authenticator, rel, log, m); err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Registry: registry,
		Auth:     authenticator,
		Wallet:   bal,
		Store:    st,
		Checks:   b.checks,
		Gatherer: reg,
		Logger:   log,
	})

	// the relay outlives the engines so the last settled round still drains
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		rel.Run(relayCtx)
	}()
	defer func() {
		stopRelay()
		<-relayDone
	}()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- registry.Run(ctx)
	}()

	listenErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info("listening", zap.String("addr", addr))
		listenErr <- srv.Listen(addr)
	}()

	var runErr error
	enginesDone := false
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-engineErr:
		enginesDone = true
		runErr = fmt.Errorf("round engines: %w", err)
	case err := <-listenErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if !enginesDone {
		if err := <-engineErr; err != nil && runErr == nil {
			runErr = fmt.Errorf("round engines: %w", err)
		}
	}
	return runErr
}

func addGame(
	registry *game.Registry,
	model game.Model,
	cfg game.Config,
	bal game.Balance,
	authenticator game.Authenticator,
	pub game.Publisher,
	log *zap.Logger,
	m *metrics.Metrics,
) error {
	hub := game.NewHub(model.Type(), log, m)
	engine, err := game.NewEngine(model, cfg, game.Deps{
		Balance: bal,
		Auth:    authenticator,
		Hub:     hub,
		Relay:   pub,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("%s engine: %w", model.Type(), err)
	}
	registry.Register(engine, hub)
	return nil
}

func openWallet(ctx context.Context, cfg config.Config, b *backends, log *zap.Logger) (wallet.Wallet, error) {
	switch strings.ToLower(cfg.Wallet.Driver) {
	case "redis":
		svc, err := b.needRedis(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return wallet.NewRedis(svc.GetClient()), nil
	case "postgres":
		svc, err := b.needPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return wallet.NewPostgres(svc.Pool()), nil
	case "memory":
		log.Warn("using in-memory wallet; balances are lost on restart")
		return wallet.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown wallet driver %q", cfg.Wallet.Driver)
	}
}

func openQueue(ctx context.Context, cfg config.Config, b *backends, log *zap.Logger) (relay.Queue, error) {
	switch strings.ToLower(cfg.Relay.Driver) {
	case "redis":
		svc, err := b.needRedis(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return relay.NewRedisStream(svc.GetClient(), cfg.Relay.Stream, cfg.Relay.Group, log), nil
	case "kafka":
		return relay.NewKafka(cfg.Relay.KafkaBrokers, cfg.Relay.KafkaTopic, cfg.Relay.Group, log), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
}

func openStore(ctx context.Context, cfg config.Config, b *backends, log *zap.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		svc, err := b.needPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(svc.Pool(), cfg.Store.HistoryCap), nil
	case "sqlite":
		return store.OpenSQLite(cfg.Store.SQLitePath, cfg.Store.HistoryCap)
	default:
		return nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}
