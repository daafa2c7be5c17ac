package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"roundhouse/internal/game"
	"roundhouse/internal/store"
)

// HealthChecker reports a dependency's status, as database.Service and
// cache.Service do.
type HealthChecker interface {
	Health() map[string]string
}

type BalanceReader interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
}

type Deps struct {
	Registry *game.Registry
	Auth     game.Authenticator
	Wallet   BalanceReader
	// Store serves round and user history; nil disables those routes.
	Store    store.Store
	Checks   map[string]HealthChecker
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type FiberServer struct {
	*fiber.App

	registry *game.Registry
	auth     game.Authenticator
	wallet   BalanceReader
	store    store.Store
	checks   map[string]HealthChecker
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

func New(d Deps) *FiberServer {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "roundhouse",
			AppName:       "roundhouse",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		registry: d.Registry,
		auth:     d.Auth,
		wallet:   d.Wallet,
		store:    d.Store,
		checks:   d.Checks,
		gatherer: gatherer,
		log:      logger.Named("server"),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// long-lived sockets and scrapes are not rate limited
			return c.Path() == "/metrics" || c.Get(fiber.HeaderUpgrade) != ""
		},
	}))

	server.RegisterFiberRoutes()
	return server
}
