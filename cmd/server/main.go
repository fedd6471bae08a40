package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/api"
	"github.com/notifyhub/alertflow/internal/config"
	"github.com/notifyhub/alertflow/internal/db"
	"github.com/notifyhub/alertflow/internal/digest"
	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/escalation"
	"github.com/notifyhub/alertflow/internal/jobs"
	"github.com/notifyhub/alertflow/internal/metrics"
	"github.com/notifyhub/alertflow/internal/provider"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
	"github.com/notifyhub/alertflow/internal/realtime"
	"github.com/notifyhub/alertflow/internal/repository"
	"github.com/notifyhub/alertflow/internal/service"
	"github.com/notifyhub/alertflow/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	checks := map[string]func(context.Context) error{
		"postgres": pool.Ping,
	}

	// ---- rate-limit store ----
	var rlStore repository.RateLimitRepository
	switch cfg.RateLimitBackend {
	case "redis":
		var rdb *redis.Client
		rdb, err = db.ConnectRedis(ctx, cfg)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		rlStore = repository.NewRedisRateLimitRepository(rdb, cfg.RateLimitRetention)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		rlStore = repository.NewPgRateLimitRepository(pool)
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New()
	hub := realtime.NewHub(logger.Named("realtime"))

	repo := repository.NewPgNotificationRepository(pool)
	prefs := repository.NewPgPreferencesRepository(pool)
	roles := repository.NewPgRoleRepository(pool)
	rules := repository.NewPgEscalationRepository(pool)

	limiter := ratelimiter.New(rlStore, ratelimiter.Config{
		WindowSeconds:    cfg.RateLimitWindow,
		MaxRequests:      cfg.RateLimitMax,
		MaxWindowSeconds: int(cfg.RateLimitRetention / time.Second),
		FailOpen:         cfg.RateLimitFailOpen,
	}, logger.Named("ratelimit"), ratelimiter.WithHooks(m.RateLimitHooks()))

	webhook := provider.NewWebhookProvider(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	providers := provider.Registry{
		domain.ChannelEmail: webhook,
		domain.ChannelSMS:   webhook,
		domain.ChannelPush:  webhook,
		domain.ChannelInApp: provider.NewInAppProvider(hub),
	}
	channelLimits := ratelimiter.NewChannelLimiters(cfg.ChannelRateLimit)

	svc := service.NewNotificationService(repo, prefs, roles, rules, q, logger,
		service.WithMaxAttempts(cfg.DeliveryMaxAttempts),
		service.WithCreatedHook(m.CreatedHook),
	)
	ruleSvc := service.NewRuleService(rules, roles)

	if cfg.EscalationRulesFile != "" {
		n, err := escalation.SeedRulesFile(ctx, cfg.EscalationRulesFile, ruleSvc)
		if err != nil {
			logger.Fatal("failed to seed escalation rules", zap.Error(err))
		}
		logger.Info("escalation rules seeded", zap.Int("rules", n), zap.String("file", cfg.EscalationRulesFile))
	}

	engine := escalation.NewEngine(repo, rules, roles, svc, escalation.Config{
		Concurrency:  cfg.EscalationConcurrency,
		BatchSize:    cfg.EscalationBatchSize,
		FailureRetry: cfg.EscalationRetry,
	}, logger.Named("escalation"), m.EscalationHook)

	builder := digest.NewBuilder(repo, svc, cfg.DigestBatchSize, logger.Named("digest"), m.DigestsBuilt.Inc)

	runner, err := jobs.NewRunner(engine, builder, rlStore, jobs.Schedules{
		Escalation: cfg.EscalationSchedule,
		Digest:     cfg.DigestSchedule,
		Prune:      cfg.PruneSchedule,
		Retention:  cfg.RateLimitRetention,
	}, logger.Named("jobs"))
	if err != nil {
		logger.Fatal("invalid job schedule", zap.Error(err))
	}

	// ---- background workers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSent, onFailed := m.WorkerHooks()
	workers := worker.NewPool(cfg, q, repo, providers, channelLimits, logger, worker.MetricHooks{
		OnSent:   onSent,
		OnFailed: onFailed,
	})
	workers.Start(workerCtx)

	retryW := worker.NewRetryWorker(repo, q, cfg.RetryInterval, logger)
	go retryW.Run(workerCtx)

	schedulerW := worker.NewSchedulerWorker(repo, q, cfg.SchedulerInterval, logger)
	go schedulerW.Run(workerCtx)

	go hub.Heartbeat(workerCtx, cfg.WSHeartbeat)

	runner.Start(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(api.Deps{
		Notifications: svc,
		Rules:         ruleSvc,
		Limiter:       limiter,
		Jobs:          runner,
		Queue:         q,
		Hub:           hub,
		Gatherer:      reg,
		OnScrape:      func() { m.ObserveQueue(q.Depths()) },
		Checks:        checks,
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Let the running cron job finish, then stop background loops.
	runner.Stop(shutdownCtx)
	cancelWorkers()

	// 3. Wait for in-flight workers to finish their current message.
	workers.Wait()
	hub.Close()

	logger.Info("server stopped cleanly")
}
