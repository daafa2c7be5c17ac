package cache

import (
	"context"
	"testing"
	"time"

	"roundhouse/internal/config"
	"roundhouse/internal/containers"
)

func TestOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Redis
		addr string
		db   int
	}{
		{name: "defaults", cfg: config.Redis{URL: "localhost:6379"}, addr: "localhost:6379", db: 0},
		{name: "custom db", cfg: config.Redis{URL: "cache:6380", DB: 4, Password: "pw"}, addr: "cache:6380", db: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options(tt.cfg)
			if opts.Addr != tt.addr {
				t.Errorf("Addr = %v, want %v", opts.Addr, tt.addr)
			}
			if opts.DB != tt.db {
				t.Errorf("DB = %v, want %v", opts.DB, tt.db)
			}
			if opts.Password != tt.cfg.Password {
				t.Errorf("Password = %v, want %v", opts.Password, tt.cfg.Password)
			}
		})
	}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := New(ctx, config.Redis{URL: "127.0.0.1:1"}, nil); err == nil {
		t.Fatal("New() should fail when redis is unreachable")
	}
}

func TestService_Health(t *testing.T) {
	cfg := containers.Redis(t)

	srv, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close()

	stats := srv.Health()
	if stats["status"] != "up" {
		t.Fatalf("expected status up, got %s (%s)", stats["status"], stats["error"])
	}
	if stats["message"] != "Redis is healthy" {
		t.Errorf("unexpected message %q", stats["message"])
	}
}
