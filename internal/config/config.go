package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Redis (rate-limit store when RateLimitBackend is "redis")
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Inbound rate limiting
	RateLimitBackend   string
	RateLimitWindow    int
	RateLimitMax       int
	RateLimitFailOpen  bool
	RateLimitRetention time.Duration

	// External provider (email, sms, push)
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// Delivery pipeline
	DeliveryWorkers     int
	DeliveryMaxAttempts int
	ChannelRateLimit    int
	RetryBackoff        []time.Duration
	SchedulerInterval   time.Duration
	RetryInterval       time.Duration
	WSHeartbeat         time.Duration

	// Escalation and digest jobs
	EscalationSchedule    string
	EscalationConcurrency int
	EscalationBatchSize   int
	EscalationRetry       time.Duration
	EscalationRulesFile   string
	DigestSchedule        string
	DigestBatchSize       int
	PruneSchedule         string
}

// Load reads a .env file when present and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		RateLimitBackend:   getEnv("RATE_LIMIT_BACKEND", "postgres"),
		RateLimitWindow:    getInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitMax:       getInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitFailOpen:  getBool("RATE_LIMIT_FAIL_OPEN", true),
		RateLimitRetention: getDuration("RATE_LIMIT_RETENTION", 24*time.Hour),

		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://webhook.site/your-uuid-here"),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),

		DeliveryWorkers:     getInt("DELIVERY_WORKERS", 10),
		DeliveryMaxAttempts: getInt("DELIVERY_MAX_ATTEMPTS", 3),
		ChannelRateLimit:    getInt("RATE_LIMIT_PER_CHANNEL", 100),

		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 5*time.Second),
			getDuration("RETRY_BACKOFF_2", 30*time.Second),
			getDuration("RETRY_BACKOFF_3", 120*time.Second),
		},

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", 5*time.Second),
		RetryInterval:     getDuration("RETRY_INTERVAL", 10*time.Second),
		WSHeartbeat:       getDuration("WS_HEARTBEAT", 30*time.Second),

		EscalationSchedule:    getEnv("ESCALATION_SCHEDULE", "@every 5m"),
		EscalationConcurrency: getInt("ESCALATION_CONCURRENCY", 8),
		EscalationBatchSize:   getInt("ESCALATION_BATCH_SIZE", 500),
		EscalationRetry:       getDuration("ESCALATION_RETRY", time.Hour),
		EscalationRulesFile:   getEnv("ESCALATION_RULES_FILE", ""),
		DigestSchedule:        getEnv("DIGEST_SCHEDULE", "@every 1h"),
		DigestBatchSize:       getInt("DIGEST_BATCH_SIZE", 1000),
		PruneSchedule:         getEnv("PRUNE_SCHEDULE", "@daily"),
	}

	switch cfg.RateLimitBackend {
	case "postgres":
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("RATE_LIMIT_BACKEND must be postgres or redis, got %q", cfg.RateLimitBackend)
	}

	// Rows older than the retention are pruned, so no window may reach past it.
	if time.Duration(cfg.RateLimitWindow)*time.Second > cfg.RateLimitRetention {
		return nil, fmt.Errorf("RATE_LIMIT_WINDOW_SECONDS (%d) exceeds RATE_LIMIT_RETENTION (%s)",
			cfg.RateLimitWindow, cfg.RateLimitRetention)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
