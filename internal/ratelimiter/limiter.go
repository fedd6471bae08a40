package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
)

// Store is the request log the limiter counts against.
// repository.RateLimitRepository satisfies it.
type Store interface {
	CountSince(ctx context.Context, clientID, endpoint string, since int64) (count int, oldest int64, err error)
	Record(ctx context.Context, r domain.RateLimitRequest) error
}

// Config holds the limiter defaults and its failure policy.
type Config struct {
	WindowSeconds int
	MaxRequests   int
	// MaxWindowSeconds caps the window a caller may ask for. It must not
	// exceed how long the store keeps rows, or pruning would empty windows
	// that are still open.
	MaxWindowSeconds int
	// FailOpen admits requests when the store is unreachable. When false the
	// limiter returns domain.ErrRateLimitUnavailable instead.
	FailOpen bool
}

// Hooks are optional metric callbacks. Nil fields are skipped.
type Hooks struct {
	OnDecision   func(endpoint string, limited bool)
	OnStoreError func(op string)
}

// CheckRequest is one admission query. Zero window or max use the defaults.
type CheckRequest struct {
	ClientID      string
	Endpoint      string
	WindowSeconds int
	MaxRequests   int
}

// Limiter is a sliding-window request counter over a persisted log.
//
// The count and the append are separate store calls, so two concurrent
// requests at the boundary can both be admitted. Callers get a soft limit.
type Limiter struct {
	store  Store
	cfg    Config
	hooks  Hooks
	logger *zap.Logger
	now    func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithHooks attaches metric callbacks.
func WithHooks(h Hooks) Option {
	return func(l *Limiter) { l.hooks = h }
}

func New(store Store, cfg Config, logger *zap.Logger, opts ...Option) *Limiter {
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.MaxWindowSeconds <= 0 {
		cfg.MaxWindowSeconds = 86400
	}
	if cfg.WindowSeconds > cfg.MaxWindowSeconds {
		cfg.WindowSeconds = cfg.MaxWindowSeconds
	}
	l := &Limiter{store: store, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Defaults returns the window and max applied when a request leaves them zero.
func (l *Limiter) Defaults() (windowSeconds, maxRequests int) {
	return l.cfg.WindowSeconds, l.cfg.MaxRequests
}

// Check counts the client's requests to the endpoint within the trailing
// window. A limited decision writes nothing; an allowed one appends exactly
// one row before returning.
func (l *Limiter) Check(ctx context.Context, req CheckRequest) (domain.RateLimitDecision, error) {
	if req.ClientID == "" {
		return domain.RateLimitDecision{}, domain.ErrInvalidClient
	}
	if req.Endpoint == "" {
		return domain.RateLimitDecision{}, domain.ErrInvalidEndpoint
	}
	if req.WindowSeconds < 0 || req.MaxRequests < 0 {
		return domain.RateLimitDecision{}, domain.ErrInvalidRateLimit
	}
	if req.WindowSeconds > l.cfg.MaxWindowSeconds {
		return domain.RateLimitDecision{}, fmt.Errorf("%w: window_seconds may not exceed %d",
			domain.ErrInvalidRateLimit, l.cfg.MaxWindowSeconds)
	}
	window, limit := req.WindowSeconds, req.MaxRequests
	if window == 0 {
		window = l.cfg.WindowSeconds
	}
	if limit == 0 {
		limit = l.cfg.MaxRequests
	}

	now := l.now().Unix()
	decision := domain.RateLimitDecision{MaxRequests: limit, WindowSeconds: window}

	count, oldest, err := l.store.CountSince(ctx, req.ClientID, req.Endpoint, now-int64(window))
	if err != nil {
		return l.storeFailure(req, decision, "count", err)
	}

	decision.CurrentRequests = count
	decision.RetryAfter = retryAfter(count, oldest, now, window)

	if count >= limit {
		decision.Limited = true
		l.observe(req.Endpoint, true)
		return decision, nil
	}

	if err := l.store.Record(ctx, domain.RateLimitRequest{
		ClientID:  req.ClientID,
		Endpoint:  req.Endpoint,
		Timestamp: now,
	}); err != nil {
		return l.storeFailure(req, decision, "record", err)
	}

	decision.Remaining = limit - (count + 1)
	l.observe(req.Endpoint, false)
	return decision, nil
}

// retryAfter is the number of seconds until the oldest counted row leaves
// the window, clamped to [1, window].
func retryAfter(count int, oldest, now int64, window int) int {
	if count == 0 {
		return window
	}
	secs := int(oldest + int64(window) + 1 - now)
	if secs < 1 {
		return 1
	}
	if secs > window {
		return window
	}
	return secs
}

func (l *Limiter) storeFailure(req CheckRequest, d domain.RateLimitDecision, op string, err error) (domain.RateLimitDecision, error) {
	if l.hooks.OnStoreError != nil {
		l.hooks.OnStoreError(op)
	}
	l.logger.Error("rate limit store failed",
		zap.String("op", op),
		zap.String("client_id", req.ClientID),
		zap.String("endpoint", req.Endpoint),
		zap.Bool("fail_open", l.cfg.FailOpen),
		zap.Error(err),
	)
	if !l.cfg.FailOpen {
		return domain.RateLimitDecision{}, domain.ErrRateLimitUnavailable
	}

	d.Limited = false
	d.Remaining = d.MaxRequests - (d.CurrentRequests + 1)
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if d.RetryAfter == 0 {
		d.RetryAfter = d.WindowSeconds
	}
	l.observe(req.Endpoint, false)
	return d, nil
}

func (l *Limiter) observe(endpoint string, limited bool) {
	if l.hooks.OnDecision != nil {
		l.hooks.OnDecision(endpoint, limited)
	}
}
