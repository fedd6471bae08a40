package config_test

import (
	"testing"
	"time"

	"github.com/notifyhub/alertflow/internal/config"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/alertflow")
	t.Setenv("RATE_LIMIT_BACKEND", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimitWindow != 60 || cfg.RateLimitMax != 100 || !cfg.RateLimitFailOpen {
		t.Errorf("unexpected rate limit defaults: %+v", cfg)
	}
	if cfg.RateLimitBackend != "postgres" {
		t.Errorf("expected postgres backend, got %q", cfg.RateLimitBackend)
	}
	if cfg.EscalationSchedule != "@every 5m" || cfg.DigestSchedule != "@every 1h" {
		t.Errorf("unexpected schedules: %q %q", cfg.EscalationSchedule, cfg.DigestSchedule)
	}
	if len(cfg.RetryBackoff) != 3 || cfg.RetryBackoff[0] != 5*time.Second {
		t.Errorf("unexpected backoff %v", cfg.RetryBackoff)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/alertflow")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("RETRY_INTERVAL", "3s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimitFailOpen {
		t.Error("expected fail-closed")
	}
	if cfg.RateLimitMax != 5 || cfg.RedisAddr != "localhost:6379" || cfg.RetryInterval != 3*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoad_RedisBackendNeedsAddress(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/alertflow")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for redis backend without REDIS_ADDR")
	}
}

func TestLoad_UnknownBackend(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/alertflow")
	t.Setenv("RATE_LIMIT_BACKEND", "memcached")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoad_WindowBeyondRetention(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/alertflow")
	t.Setenv("RATE_LIMIT_BACKEND", "")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "172800")
	t.Setenv("RATE_LIMIT_RETENTION", "24h")

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for a window longer than the retention")
	}
}
