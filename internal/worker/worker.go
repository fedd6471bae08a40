package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/provider"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
	"github.com/notifyhub/alertflow/internal/repository"
)

// Worker is a single goroutine that continuously pulls deliveries from the
// priority queue, applies per-channel throttling, sends via the channel's
// provider, and schedules retries on failure.
type Worker struct {
	id        int
	q         *queue.PriorityQueue
	repo      repository.NotificationRepository
	providers provider.Registry
	limiter   *ratelimiter.ChannelLimiters
	backoff   []time.Duration
	logger    *zap.Logger

	// Metric hooks injected by the pool so the worker stays metrics-agnostic.
	onSent   func(channel domain.Channel, latency time.Duration)
	onFailed func(channel domain.Channel)
}

// NewWorker constructs a worker. onSent and onFailed are optional (nil = no-op).
func NewWorker(
	id int,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	providers provider.Registry,
	limiter *ratelimiter.ChannelLimiters,
	backoff []time.Duration,
	logger *zap.Logger,
	onSent func(domain.Channel, time.Duration),
	onFailed func(domain.Channel),
) *Worker {
	if onSent == nil {
		onSent = func(domain.Channel, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(domain.Channel) {}
	}
	if len(backoff) == 0 {
		backoff = []time.Duration{5 * time.Second}
	}
	return &Worker{
		id: id, q: q, repo: repo, providers: providers,
		limiter: limiter, backoff: backoff, logger: logger,
		onSent: onSent, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.logger.With(
		zap.String("delivery_id", item.DeliveryID),
		zap.String("notification_id", item.NotificationID),
		zap.String("channel", string(item.Channel)),
	)

	d, err := w.repo.GetDelivery(ctx, item.DeliveryID)
	if err != nil {
		log.Error("failed to fetch delivery", zap.Error(err))
		return
	}
	if d.Status == domain.DeliverySent {
		log.Debug("delivery already sent")
		return
	}

	n, err := w.repo.GetByID(ctx, d.NotificationID)
	if err != nil {
		log.Error("failed to fetch notification", zap.Error(err))
		return
	}

	// Expired or closed notifications are not worth another attempt.
	if n.Expired(start) || n.Status == domain.StatusFailed {
		if err := w.repo.MarkDeliveryFailed(ctx, d.ID, d.Attempts, "notification expired or closed"); err != nil {
			log.Error("failed to close delivery", zap.Error(err))
		}
		return
	}

	prov, err := w.providers.For(d.Channel)
	if err != nil {
		w.handleFailure(ctx, n, d, err)
		return
	}

	// Block here until the per-channel token bucket grants a token.
	if err := w.limiter.Wait(ctx, d.Channel); err != nil {
		// ctx cancelled while waiting; the worker is shutting down.
		return
	}

	resp, err := prov.Send(ctx, n, d.Channel)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("provider send failed", zap.Error(err), zap.Int("attempts", d.Attempts))
		w.handleFailure(ctx, n, d, err)
		return
	}

	now := time.Now().UTC()
	if err := w.repo.MarkDeliverySent(ctx, d.ID, resp.MessageID, now); err != nil {
		log.Error("failed to mark delivery as sent", zap.Error(err))
		return
	}

	// The first channel that succeeds advances the notification.
	if n.Status == domain.StatusPending {
		err := w.repo.Transition(ctx, n.ID, domain.StatusPending, domain.StatusSent, now)
		if err != nil && !errors.Is(err, domain.ErrIllegalStatus) {
			log.Error("failed to mark notification as sent", zap.Error(err))
		}
	}

	w.onSent(d.Channel, elapsed)
	log.Info("delivery sent", zap.String("provider_msg_id", resp.MessageID), zap.Duration("latency", elapsed))
}

// handleFailure either schedules a retry (if attempts remain) or marks the
// delivery as permanently failed. Gateway rejections are never retried.
//
// The retry delay is backoff[attempts-1], clamped to the last entry.
func (w *Worker) handleFailure(ctx context.Context, n *domain.Notification, d *domain.Delivery, sendErr error) {
	attempts := d.Attempts + 1

	if attempts >= d.MaxAttempts || errors.Is(sendErr, provider.ErrRejected) {
		if err := w.repo.MarkDeliveryFailed(ctx, d.ID, attempts, sendErr.Error()); err != nil {
			w.logger.Error("failed to mark delivery as failed",
				zap.String("id", d.ID), zap.Error(err))
			return
		}
		w.onFailed(d.Channel)
		w.settle(ctx, n)
		return
	}

	idx := attempts - 1
	if idx >= len(w.backoff) {
		idx = len(w.backoff) - 1
	}
	next := time.Now().UTC().Add(w.backoff[idx])

	if err := w.repo.ScheduleDeliveryRetry(ctx, d.ID, attempts, next, sendErr.Error()); err != nil {
		w.logger.Error("failed to schedule retry",
			zap.String("id", d.ID), zap.Error(err))
	}
}

// settle fails the notification once every channel has given up.
// A single surviving channel keeps it alive; partial delivery is fine.
func (w *Worker) settle(ctx context.Context, n *domain.Notification) {
	deliveries, err := w.repo.ListDeliveries(ctx, n.ID)
	if err != nil {
		w.logger.Error("failed to list deliveries", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	for _, d := range deliveries {
		if !d.GaveUp() {
			return
		}
	}

	if !n.Status.CanTransition(domain.StatusFailed) {
		return
	}
	err = w.repo.Transition(ctx, n.ID, n.Status, domain.StatusFailed, time.Now().UTC())
	if err != nil && !errors.Is(err, domain.ErrIllegalStatus) {
		w.logger.Error("failed to mark notification as failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
}
