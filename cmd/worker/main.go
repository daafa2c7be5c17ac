package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roundhouse/internal/cache"
	"roundhouse/internal/config"
	"roundhouse/internal/database"
	"roundhouse/internal/logger"
	"roundhouse/internal/metrics"
	"roundhouse/internal/relay"
	"roundhouse/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.ServiceName+"-worker", cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("worker exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]interface{ Health() map[string]string }{}

	var queue relay.Queue
	switch strings.ToLower(cfg.Relay.Driver) {
	case "redis":
		svc, err := cache.New(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer svc.Close()
		checks["redis"] = svc
		queue = relay.NewRedisStream(svc.GetClient(), cfg.Relay.Stream, cfg.Relay.Group, log)
	case "kafka":
		queue = relay.NewKafka(cfg.Relay.KafkaBrokers, cfg.Relay.KafkaTopic, cfg.Relay.Group, log)
	default:
		return fmt.Errorf("unknown relay driver %q", cfg.Relay.Driver)
	}
	defer queue.Close()

	var st store.Store
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		db, err := database.New(ctx, cfg.Postgres, log)
		if err != nil {
			return err
		}
		defer db.Close()
		checks["database"] = db
		st = store.NewPostgres(db.Pool(), cfg.Store.HistoryCap)
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.SQLitePath, cfg.Store.HistoryCap)
		if err != nil {
			return err
		}
		st = s
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	defer st.Close()

	app := fiber.New(fiber.Config{AppName: "roundhouse-worker", DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		health := fiber.Map{}
		for name, check := range checks {
			health[name] = check.Health()
		}
		return c.JSON(health)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort)); err != nil {
			log.Error("health listener", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.ShutdownWithContext(shutdownCtx)
	}()

	worker := relay.NewWorker(queue, st, cfg.Relay.MaxAttempts, log, m)
	log.Info("worker started",
		zap.String("relay", cfg.Relay.Driver),
		zap.String("store", cfg.Store.Driver),
	)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker: %w", err)
	}
	log.Info("worker stopped")
	return nil
}
