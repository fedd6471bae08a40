package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/repository"
)

// SchedulerWorker polls the database for deliveries whose scheduled time has
// passed and enqueues them. Notifications created with a future
// scheduled_for store their deliveries as scheduled and bypass the queue
// until then.
type SchedulerWorker struct {
	repo     repository.NotificationRepository
	q        *queue.PriorityQueue
	interval time.Duration
	logger   *zap.Logger
}

func NewSchedulerWorker(
	repo repository.NotificationRepository,
	q *queue.PriorityQueue,
	interval time.Duration,
	logger *zap.Logger,
) *SchedulerWorker {
	return &SchedulerWorker{repo: repo, q: q, interval: interval, logger: logger}
}

// Run ticks every interval and enqueues any deliveries that are now due.
// Stops cleanly when ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx)
		}
	}
}

func (sw *SchedulerWorker) poll(ctx context.Context) {
	deliveries, err := sw.repo.FindDueScheduled(ctx, time.Now().UTC())
	if err != nil {
		sw.logger.Error("scheduler poll error", zap.Error(err))
		return
	}

	n := enqueueDeliveries(ctx, sw.repo, sw.q, deliveries, sw.logger)
	if n > 0 {
		sw.logger.Info("enqueued due scheduled deliveries", zap.Int("count", n))
	}
}
