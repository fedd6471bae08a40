// Package jobs runs the periodic escalation sweep, digest build and
// rate-limit log pruning on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/digest"
	"github.com/notifyhub/alertflow/internal/escalation"
)

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (escalation.Report, error)
}

type DigestBuilder interface {
	Build(ctx context.Context, now time.Time) (digest.Report, error)
}

// Pruner deletes rate-limit rows older than a unix timestamp.
type Pruner interface {
	Prune(ctx context.Context, before int64) (int64, error)
}

// Schedules holds cron specs. An empty spec disables that job.
type Schedules struct {
	Escalation string
	Digest     string
	Prune      string
	// Retention is how long rate-limit rows are kept.
	Retention time.Duration
	// Timeout bounds a single scheduled run.
	Timeout time.Duration
}

// Runner owns the cron scheduler. Overlapping runs of the same job are
// skipped rather than queued.
type Runner struct {
	cron      *cron.Cron
	sweeper   Sweeper
	digests   DigestBuilder
	pruner    Pruner
	schedules Schedules
	logger    *zap.Logger
	now       func() time.Time

	base context.Context
}

func NewRunner(sweeper Sweeper, digests DigestBuilder, pruner Pruner, s Schedules, logger *zap.Logger) (*Runner, error) {
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Minute
	}
	cl := cronLogger{logger.Sugar()}
	r := &Runner{
		cron:      cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		sweeper:   sweeper,
		digests:   digests,
		pruner:    pruner,
		schedules: s,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		base:      context.Background(),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"escalation", s.Escalation, func(ctx context.Context) error { _, err := r.RunEscalations(ctx); return err }},
		{"digest", s.Digest, func(ctx context.Context) error { _, err := r.RunDigests(ctx); return err }},
		{"prune", s.Prune, func(ctx context.Context) error { _, err := r.Prune(ctx); return err }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		j := j
		if _, err := r.cron.AddFunc(j.spec, func() { r.scheduled(j.name, j.run) }); err != nil {
			return nil, fmt.Errorf("schedule %s job %q: %w", j.name, j.spec, err)
		}
	}
	return r, nil
}

// Start begins firing scheduled jobs. Runs derive their context from ctx.
func (r *Runner) Start(ctx context.Context) {
	r.base = ctx
	r.cron.Start()
	r.logger.Info("job runner started",
		zap.String("escalation", r.schedules.Escalation),
		zap.String("digest", r.schedules.Digest),
		zap.String("prune", r.schedules.Prune),
	)
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("job runner stopped")
	case <-ctx.Done():
		r.logger.Warn("job runner stop timed out; jobs still running")
	}
}

func (r *Runner) RunEscalations(ctx context.Context) (escalation.Report, error) {
	return r.sweeper.Sweep(ctx, r.now())
}

func (r *Runner) RunDigests(ctx context.Context) (digest.Report, error) {
	return r.digests.Build(ctx, r.now())
}

// Prune removes rate-limit rows older than the retention period.
func (r *Runner) Prune(ctx context.Context) (int64, error) {
	retention := r.schedules.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	before := r.now().Add(-retention).Unix()
	n, err := r.pruner.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune rate-limit log: %w", err)
	}
	if n > 0 {
		r.logger.Info("rate-limit log pruned", zap.Int64("rows", n))
	}
	return n, nil
}

func (r *Runner) scheduled(name string, run func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.base, r.schedules.Timeout)
	defer cancel()

	start := time.Now()
	if err := run(ctx); err != nil {
		r.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	r.logger.Debug("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
