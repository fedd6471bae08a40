package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/repository"
)

// RetryWorker polls the database for failed deliveries whose next attempt is
// due and re-enqueues them. Retry times are persisted, so they survive
// server restarts.
type RetryWorker struct {
	repo     repository.NotificationRepository
	q        *queue.PriorityQueue
	interval time.Duration
	logger   *zap.Logger
}

func NewRetryWorker(
	repo repository.NotificationRepository,
	q *queue.PriorityQueue,
	interval time.Duration,
	logger *zap.Logger,
) *RetryWorker {
	return &RetryWorker{repo: repo, q: q, interval: interval, logger: logger}
}

// Run ticks every interval and re-enqueues any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *RetryWorker) poll(ctx context.Context) {
	deliveries, err := rw.repo.FindDueRetries(ctx, time.Now().UTC())
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return
	}

	n := enqueueDeliveries(ctx, rw.repo, rw.q, deliveries, rw.logger)
	if n > 0 {
		rw.logger.Info("re-enqueued due retries", zap.Int("count", n))
	}
}

// enqueueDeliveries pushes deliveries onto q and marks them queued.
// It returns how many were enqueued.
func enqueueDeliveries(
	ctx context.Context,
	repo repository.NotificationRepository,
	q *queue.PriorityQueue,
	deliveries []*domain.Delivery,
	logger *zap.Logger,
) int {
	enqueued := 0
	for _, d := range deliveries {
		prev := d.Status
		if err := repo.UpdateDeliveryStatus(ctx, d.ID, domain.DeliveryQueued); err != nil {
			logger.Error("failed to mark delivery queued", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		if err := q.Enqueue(queue.Item{
			DeliveryID:     d.ID,
			NotificationID: d.NotificationID,
			Channel:        d.Channel,
			Priority:       d.Priority,
		}); err != nil {
			logger.Warn("could not enqueue delivery", zap.String("id", d.ID), zap.Error(err))
			if err := repo.UpdateDeliveryStatus(ctx, d.ID, prev); err != nil {
				logger.Error("failed to restore delivery status", zap.String("id", d.ID), zap.Error(err))
			}
			continue
		}
		enqueued++
	}
	return enqueued
}
