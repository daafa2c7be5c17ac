package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env         string `env:"ENV" envDefault:"local"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"roundhouse"`
	Port        int    `env:"PORT" envDefault:"8080"`
	// WorkerPort serves the worker's /health and /metrics.
	WorkerPort int `env:"WORKER_PORT" envDefault:"9090"`

	Redis    Redis    `envPrefix:"REDIS_"`
	Postgres Postgres `envPrefix:"BLUEPRINT_DB_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Wallet   Wallet   `envPrefix:"WALLET_"`
	Relay    Relay    `envPrefix:"RELAY_"`
	Store    Store    `envPrefix:"STORE_"`
	Crash    Crash    `envPrefix:"CRASH_"`
	Board    Board    `envPrefix:"BOARD_"`
}

type Redis struct {
	URL      string `env:"URL" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Postgres struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	Database string `env:"DATABASE" envDefault:"roundhouse"`
	Username string `env:"USERNAME" envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"postgres"`
	Schema   string `env:"SCHEMA" envDefault:"public"`
}

// DSN renders the connection string shared by pgx and golang-migrate.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		p.Username, p.Password, p.Host, p.Port, p.Database, p.Schema)
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret"`
}

type Wallet struct {
	// Driver is one of redis, postgres or memory.
	Driver  string        `env:"DRIVER" envDefault:"redis"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"500ms"`
}

type Relay struct {
	// Driver is one of redis or kafka.
	Driver       string        `env:"DRIVER" envDefault:"redis"`
	Stream       string        `env:"STREAM" envDefault:"rounds:persist"`
	Group        string        `env:"GROUP" envDefault:"round-worker"`
	KafkaBrokers string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"round_persist"`
	Buffer       int           `env:"BUFFER" envDefault:"256"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Backoff      time.Duration `env:"BACKOFF" envDefault:"200ms"`
}

type Store struct {
	// Driver is one of postgres or sqlite.
	Driver     string `env:"DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"data/roundhouse.db"`
	HistoryCap int    `env:"HISTORY_CAP" envDefault:"50"`
}

type Crash struct {
	BetWindow    time.Duration `env:"BET_WINDOW" envDefault:"15s"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"100ms"`
	Pause        time.Duration `env:"PAUSE" envDefault:"5s"`
	MinBet       float64       `env:"MIN_BET" envDefault:"5"`
	MaxBet       float64       `env:"MAX_BET" envDefault:"50000"`
	Ceiling      float64       `env:"CEILING" envDefault:"40"`
	HistorySize  int           `env:"HISTORY_SIZE" envDefault:"200"`
}

type Board struct {
	BetWindow   time.Duration `env:"BET_WINDOW" envDefault:"15s"`
	Pause       time.Duration `env:"PAUSE" envDefault:"1200ms"`
	MinBet      float64       `env:"MIN_BET" envDefault:"5"`
	MaxBet      float64       `env:"MAX_BET" envDefault:"50000"`
	HistorySize int           `env:"HISTORY_SIZE" envDefault:"50"`
}

// Load parses the process environment (and .env, if present).
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Crash.MinBet <= 0 || cfg.Crash.MaxBet < cfg.Crash.MinBet {
		return Config{}, fmt.Errorf("invalid crash bet bounds [%v, %v]", cfg.Crash.MinBet, cfg.Crash.MaxBet)
	}
	if cfg.Board.MinBet <= 0 || cfg.Board.MaxBet < cfg.Board.MinBet {
		return Config{}, fmt.Errorf("invalid board bet bounds [%v, %v]", cfg.Board.MinBet, cfg.Board.MaxBet)
	}
	if cfg.Relay.MaxAttempts < 1 {
		cfg.Relay.MaxAttempts = 1
	}
	return cfg, nil
}
