// Package escalation walks unacted notification lineages up their escalation
// chains. A lineage is a root notification plus every notification created
// from it by successive chain steps; each evaluation fires at most one step.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/priority"
	"github.com/notifyhub/alertflow/internal/repository"
)

// Publisher routes, persists and enqueues a new notification.
// *service.NotificationService satisfies it.
type Publisher interface {
	Publish(ctx context.Context, n *domain.Notification, requested []domain.Channel) error
}

// ErrSweepRunning is returned when a sweep starts while another is in flight.
var ErrSweepRunning = errors.New("escalation sweep already running")

// Stop reasons reported when an evaluation creates nothing.
const (
	StopUnbound   = "unbound"
	StopActed     = "acted"
	StopExpired   = "expired"
	StopFailed    = "leaf_failed"
	StopExhausted = "chain_exhausted"
	StopNotDue    = "not_due"
	StopRecorded  = "failure_already_recorded"
	StopRaced     = "level_taken"
)

// Result describes one lineage evaluation. Outcome is empty when the
// evaluation stopped without an attempt; Stop then names why.
type Result struct {
	RootID    string                   `json:"root_id"`
	Outcome   domain.EscalationOutcome `json:"outcome,omitempty"`
	Stop      string                   `json:"stop,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Escalated *domain.Notification     `json:"escalated,omitempty"`
}

// Report summarises a sweep.
type Report struct {
	Evaluated int `json:"evaluated"`
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
	Errors    int `json:"errors"`
}

// Config bounds a sweep.
type Config struct {
	Concurrency int
	BatchSize   int
	// FailureRetry is how long a lineage whose step could not be resolved
	// waits before the sweep looks at it again.
	FailureRetry time.Duration
}

// Engine evaluates escalation lineages against their rules.
type Engine struct {
	notifications repository.NotificationRepository
	rules         repository.EscalationRepository
	roles         repository.RoleRepository
	pub           Publisher
	cfg           Config
	logger        *zap.Logger
	onOutcome     func(domain.EscalationOutcome)

	running atomic.Bool
}

func NewEngine(
	notifications repository.NotificationRepository,
	rules repository.EscalationRepository,
	roles repository.RoleRepository,
	pub Publisher,
	cfg Config,
	logger *zap.Logger,
	onOutcome func(domain.EscalationOutcome),
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FailureRetry <= 0 {
		cfg.FailureRetry = time.Hour
	}
	return &Engine{
		notifications: notifications,
		rules:         rules,
		roles:         roles,
		pub:           pub,
		cfg:           cfg,
		logger:        logger,
		onOutcome:     onOutcome,
	}
}

// Sweep evaluates every candidate lineage once. Lineages run concurrently,
// bounded by Config.Concurrency; an error in one lineage is logged and
// counted but never stops the others.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Report{}, ErrSweepRunning
	}
	defer e.running.Store(false)

	roots, err := e.notifications.FindEscalationRoots(ctx, now, e.cfg.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("find escalation roots: %w", err)
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)

	for _, root := range roots {
		rootID := root.ID
		g.Go(func() error {
			res, err := e.EvaluateLineage(ctx, rootID, now)

			mu.Lock()
			defer mu.Unlock()
			report.Evaluated++
			if err != nil {
				report.Errors++
				e.logger.Error("escalation evaluation failed", zap.String("root_id", rootID), zap.Error(err))
				return nil
			}
			switch res.Outcome {
			case domain.OutcomeEscalated:
				report.Escalated++
			case domain.OutcomeFailed:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Info("escalation sweep finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("escalated", report.Escalated),
		zap.Int("failed", report.Failed),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// EvaluateLineage applies the next unconsumed chain step of the lineage
// rooted at rootID, if it is due at now, and stores when the lineage is next
// due. Lineages that stop for good are retired from the sweep.
func (e *Engine) EvaluateLineage(ctx context.Context, rootID string, now time.Time) (*Result, error) {
	res, next, err := e.evaluate(ctx, rootID, now)
	if err != nil {
		return nil, err
	}
	if res.Stop == StopRaced {
		// The winning evaluation schedules the lineage.
		return res, nil
	}
	if err := e.notifications.ScheduleEscalation(ctx, rootID, next); err != nil {
		return nil, fmt.Errorf("schedule escalation: %w", err)
	}
	return res, nil
}

// evaluate returns the result and the next time the lineage should be looked
// at; nil means never.
func (e *Engine) evaluate(ctx context.Context, rootID string, now time.Time) (*Result, *time.Time, error) {
	lineage, err := e.notifications.ListLineage(ctx, rootID)
	if err != nil {
		return nil, nil, fmt.Errorf("list lineage: %w", err)
	}
	if len(lineage) == 0 || lineage[0].ID != rootID {
		return nil, nil, fmt.Errorf("lineage %s: %w", rootID, domain.ErrNotFound)
	}
	root, leaf := lineage[0], lineage[len(lineage)-1]
	res := &Result{RootID: rootID}
	retry := now.Add(e.cfg.FailureRetry)

	if !root.EscalationBound() {
		res.Stop = StopUnbound
		return res, nil, nil
	}
	for _, n := range lineage {
		if n.Status == domain.StatusActed {
			res.Stop = StopActed
			return res, nil, nil
		}
	}
	if root.Expired(now) {
		res.Stop = StopExpired
		return res, nil, nil
	}
	if leaf.Status == domain.StatusFailed {
		res.Stop = StopFailed
		return res, nil, nil
	}

	level := leaf.EscalationLevel + 1

	rule, err := e.rules.GetRule(ctx, *root.EntityType, *root.TriggerEvent)
	if errors.Is(err, domain.ErrRuleNotFound) {
		reason := fmt.Sprintf("no active escalation rule for %s/%s", *root.EntityType, *root.TriggerEvent)
		res, err := e.fail(ctx, res, root, leaf, nil, level, reason, now)
		return res, &retry, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load escalation rule: %w", err)
	}

	stepIdx := leaf.EscalationLevel
	if stepIdx >= len(rule.EscalationChain) {
		res.Stop = StopExhausted
		return res, nil, nil
	}
	if due := root.CreatedAt.Add(rule.CumulativeDelay(stepIdx)); now.Before(due) {
		res.Stop = StopNotDue
		return res, &due, nil
	}
	step := rule.EscalationChain[stepIdx]
	subject := escalationSubject(root)

	target, err := e.resolve(ctx, step, subject)
	if errors.Is(err, domain.ErrRoleUnassigned) {
		reason := fmt.Sprintf("no user assigned to role %q for step %d", step.Role, level)
		res, err := e.fail(ctx, res, root, leaf, rule, level, reason, now)
		return res, &retry, err
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve role %q: %w", step.Role, err)
	}

	child := newEscalatedNotification(root, leaf, subject, step, target, now)
	if err := e.pub.Publish(ctx, child, nil); err != nil {
		if errors.Is(err, domain.ErrLineageLevelTaken) {
			// Another evaluation created this level first.
			res.Stop = StopRaced
			return res, nil, nil
		}
		return nil, nil, fmt.Errorf("publish escalation: %w", err)
	}

	var next *time.Time
	if stepIdx+1 < len(rule.EscalationChain) {
		due := root.CreatedAt.Add(rule.CumulativeDelay(stepIdx + 1))
		if due.Before(now) {
			due = now
		}
		next = &due
	}

	ruleID := rule.ID
	toUser := child.UserID
	escalatedID := child.ID
	hours := int(rule.CumulativeDelay(stepIdx) / time.Hour)
	h := &domain.EscalationHistory{
		ID:                      uuid.New().String(),
		RootID:                  root.ID,
		NotificationID:          leaf.ID,
		EscalatedNotificationID: &escalatedID,
		RuleID:                  &ruleID,
		FromUserID:              leaf.UserID,
		ToUserID:                &toUser,
		EscalationLevel:         level,
		Reason:                  fmt.Sprintf("unacted for %dh, escalated to %s", hours, step.Role),
		Outcome:                 domain.OutcomeEscalated,
		CreatedAt:               now,
	}
	if err := e.rules.RecordHistory(ctx, h); err != nil {
		return nil, nil, fmt.Errorf("record escalation history: %w", err)
	}
	e.observe(domain.OutcomeEscalated)

	e.logger.Info("lineage escalated",
		zap.String("root_id", root.ID),
		zap.String("notification_id", child.ID),
		zap.String("to_user_id", child.UserID),
		zap.Int("level", level),
	)

	res.Outcome = domain.OutcomeEscalated
	res.Reason = h.Reason
	res.Escalated = child
	return res, next, nil
}

func (e *Engine) resolve(ctx context.Context, step domain.EscalationStep, subjectUserID string) (string, error) {
	if step.UserID != nil && *step.UserID != "" {
		return *step.UserID, nil
	}
	return e.roles.Resolve(ctx, step.Role, subjectUserID)
}

// fail records a failed attempt once per (root, level); repeated sweeps that
// hit the same resolution error stay silent.
func (e *Engine) fail(
	ctx context.Context,
	res *Result,
	root, leaf *domain.Notification,
	rule *domain.EscalationRule,
	level int,
	reason string,
	now time.Time,
) (*Result, error) {
	res.Reason = reason

	recorded, err := e.rules.HasFailedAttempt(ctx, root.ID, level)
	if err != nil {
		return nil, fmt.Errorf("check failed attempts: %w", err)
	}
	if recorded {
		res.Stop = StopRecorded
		return res, nil
	}

	h := &domain.EscalationHistory{
		ID:              uuid.New().String(),
		RootID:          root.ID,
		NotificationID:  leaf.ID,
		FromUserID:      leaf.UserID,
		EscalationLevel: level,
		Reason:          reason,
		Outcome:         domain.OutcomeFailed,
		CreatedAt:       now,
	}
	if rule != nil {
		ruleID := rule.ID
		h.RuleID = &ruleID
	}
	if err := e.rules.RecordHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("record escalation failure: %w", err)
	}
	e.observe(domain.OutcomeFailed)

	e.logger.Warn("escalation attempt failed",
		zap.String("root_id", root.ID),
		zap.Int("level", level),
		zap.String("reason", reason),
	)

	res.Outcome = domain.OutcomeFailed
	return res, nil
}

func (e *Engine) observe(o domain.EscalationOutcome) {
	if e.onOutcome != nil {
		e.onOutcome(o)
	}
}

// escalationSubject is the user whose roles a chain resolves against. A
// vacation redirect moves the root to a delegate but keeps the addressee in
// metadata.
func escalationSubject(root *domain.Notification) string {
	if id, ok := root.Metadata["original_user_id"].(string); ok && id != "" {
		return id
	}
	return root.UserID
}

func newEscalatedNotification(root, leaf *domain.Notification, subject string, step domain.EscalationStep, target string, now time.Time) *domain.Notification {
	factors, score := priority.Rescore(root.PriorityFactors, domain.TypeEscalation)
	id := uuid.New().String()
	parent := leaf.ID

	metadata := make(map[string]any, len(root.Metadata)+2)
	for k, v := range root.Metadata {
		metadata[k] = v
	}
	metadata["escalated_role"] = step.Role
	metadata["original_user_id"] = subject

	unanswered := leaf.UserID
	if leaf.ID == root.ID {
		unanswered = subject
	}

	return &domain.Notification{
		ID:              id,
		UserID:          target,
		Title:           truncate("Escalation: "+root.Title, 255),
		Message:         fmt.Sprintf("No response yet from %s. %s", unanswered, root.Message),
		Type:            domain.TypeEscalation,
		Priority:        score.Priority,
		PriorityScore:   score.Total,
		PriorityFactors: factors,
		Status:          domain.StatusPending,
		Metadata:        metadata,
		Actions:         root.Actions,
		DeepLink:        root.DeepLink,
		EntityType:      root.EntityType,
		TriggerEvent:    root.TriggerEvent,
		ScheduledFor:    now,
		Deadline:        root.Deadline,
		ExpiresAt:       root.ExpiresAt,
		RootID:          root.ID,
		IsEscalated:     true,
		EscalatedFrom:   &parent,
		EscalationLevel: leaf.EscalationLevel + 1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
