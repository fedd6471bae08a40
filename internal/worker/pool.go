package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/config"
	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/provider"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
	"github.com/notifyhub/alertflow/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnSent   func(channel domain.Channel, latency time.Duration)
	OnFailed func(channel domain.Channel)
}

// Pool manages the lifecycle of all delivery workers.
// All workers share the same priority queue; the queue's double-select
// pattern handles priority ordering internally.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.DeliveryWorkers identical workers. Channel differences
// live in the provider registry and the per-channel token buckets.
func NewPool(
	cfg *config.Config,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	providers provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	workers := make([]*Worker, cfg.DeliveryWorkers)

	for i := range workers {
		workers[i] = NewWorker(
			i, q, repo, providers, limiter,
			cfg.RetryBackoff,
			logger.With(zap.Int("worker_id", i)),
			hooks.OnSent,
			hooks.OnFailed,
		)
	}

	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// Cancelling ctx triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
