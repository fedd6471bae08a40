package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/priority"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/repository"
)

// NotificationService coordinates scoring, routing, persistence and the
// delivery queue. All business rules for creating and advancing
// notifications live here; HTTP handlers and the escalation and digest jobs
// depend on this service, not on each other.
type NotificationService struct {
	repo    repository.NotificationRepository
	prefs   repository.PreferencesRepository
	roles   repository.RoleRepository
	history repository.EscalationRepository
	q       *queue.PriorityQueue
	logger  *zap.Logger

	now         func() time.Time
	maxAttempts int
	onCreated   func(domain.Priority)
}

// Option customises a NotificationService.
type Option func(*NotificationService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *NotificationService) { s.now = now }
}

// WithMaxAttempts sets the per-channel attempt budget of new deliveries.
func WithMaxAttempts(n int) Option {
	return func(s *NotificationService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCreatedHook is called once per persisted notification.
func WithCreatedHook(fn func(domain.Priority)) Option {
	return func(s *NotificationService) { s.onCreated = fn }
}

func NewNotificationService(
	repo repository.NotificationRepository,
	prefs repository.PreferencesRepository,
	roles repository.RoleRepository,
	history repository.EscalationRepository,
	q *queue.PriorityQueue,
	logger *zap.Logger,
	opts ...Option,
) *NotificationService {
	s := &NotificationService{
		repo:        repo,
		prefs:       prefs,
		roles:       roles,
		history:     history,
		q:           q,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates, scores, routes, persists and enqueues a notification.
//
// Idempotency: if an X-Idempotency-Key header was supplied and a notification
// with that key already exists, the existing record is returned as-is and
// nothing new is written. The boolean result reports a duplicate.
func (s *NotificationService) Create(
	ctx context.Context,
	req domain.CreateNotificationRequest,
	idempotencyKey string,
) (*domain.Notification, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	if idempotencyKey != "" {
		existing, err := s.existing(ctx, idempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	role, err := s.roles.RoleOf(ctx, req.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("recipient role lookup: %w", err)
	}

	now := s.now()
	factors := priority.Factors(priority.Inputs{
		Type:            req.Type,
		Deadline:        req.Deadline,
		RecipientRole:   role,
		Critical:        req.Critical,
		LegalCompliance: req.LegalCompliance,
	}, now)

	n := buildNotification(req, factors, now)
	if idempotencyKey != "" {
		n.IdempotencyKey = &idempotencyKey
	}

	if err := s.Publish(ctx, n, req.Channels); err != nil {
		// A concurrent request with the same key won the insert.
		if errors.Is(err, domain.ErrConflict) && idempotencyKey != "" {
			existing, lookupErr := s.existing(ctx, idempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}
	return n, false, nil
}

// Publish routes n through its recipient's preferences, persists it with one
// delivery per resolved channel and enqueues the deliveries that are due.
// Deferred notifications get no deliveries; the digest job picks them up.
func (s *NotificationService) Publish(ctx context.Context, n *domain.Notification, requested []domain.Channel) error {
	now := s.now()

	prefs, err := s.preferencesFor(ctx, n.UserID)
	if err != nil {
		return err
	}
	routing := prefs.Resolve(domain.RouteInput{
		UserID:      n.UserID,
		Type:        n.Type,
		Priority:    n.Priority,
		HasDeadline: n.Deadline != nil,
		Requested:   requested,
	}, now)

	if routing.Redirected {
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		// Escalations already carry the lineage's addressee.
		if _, kept := n.Metadata["original_user_id"]; !kept || !n.IsEscalated {
			n.Metadata["original_user_id"] = n.UserID
		}
		n.UserID = routing.UserID
	}
	if routing.Degraded {
		s.logger.Warn("no channel resolved, falling back to in-app",
			zap.String("id", n.ID), zap.String("user_id", n.UserID))
	}
	n.Channels = routing.Channels
	n.Deferred = routing.Deferred

	var deliveries []*domain.Delivery
	if !n.Deferred {
		deliveries = s.planDeliveries(n)
	}

	if err := s.repo.Create(ctx, n, deliveries); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if s.onCreated != nil {
		s.onCreated(n.Priority)
	}

	s.dispatch(ctx, deliveries, now)
	return nil
}

// PublishDigest persists a digest notification, absorbs its members and
// enqueues the digest's deliveries.
func (s *NotificationService) PublishDigest(ctx context.Context, digest *domain.Notification, memberIDs []string) error {
	now := s.now()

	prefs, err := s.preferencesFor(ctx, digest.UserID)
	if err != nil {
		return err
	}
	routing := prefs.Resolve(domain.RouteInput{
		UserID:   digest.UserID,
		Type:     digest.Type,
		Priority: digest.Priority,
	}, now)
	digest.Channels = routing.Channels

	deliveries := s.planDeliveries(digest)
	if err := s.repo.CreateDigest(ctx, digest, deliveries, memberIDs); err != nil {
		return fmt.Errorf("persist digest: %w", err)
	}
	if s.onCreated != nil {
		s.onCreated(digest.Priority)
	}

	s.dispatch(ctx, deliveries, now)
	return nil
}

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	return s.repo.List(ctx, filter)
}

// Deliveries returns the per-channel delivery records of a notification.
func (s *NotificationService) Deliveries(ctx context.Context, id string) ([]*domain.Delivery, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListDeliveries(ctx, id)
}

// MarkRead records that the recipient opened the notification.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	return s.advance(ctx, id, domain.StatusRead)
}

// MarkActed records that the recipient responded. Acting on any member of a
// lineage stops further escalation of that lineage.
func (s *NotificationService) MarkActed(ctx context.Context, id string) (*domain.Notification, error) {
	return s.advance(ctx, id, domain.StatusActed)
}

// Lineage returns the lineage that id belongs to, ordered by escalation
// level, together with its escalation history.
func (s *NotificationService) Lineage(ctx context.Context, id string) (*domain.Lineage, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListLineage(ctx, n.RootID)
	if err != nil {
		return nil, fmt.Errorf("list lineage: %w", err)
	}
	history, err := s.history.ListHistory(ctx, n.RootID)
	if err != nil {
		return nil, fmt.Errorf("list escalation history: %w", err)
	}
	return &domain.Lineage{RootID: n.RootID, Notifications: members, History: history}, nil
}

// GetPreferences returns the stored preferences, or the defaults when the
// user never stored any.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	return s.preferencesFor(ctx, userID)
}

func (s *NotificationService) UpdatePreferences(ctx context.Context, p *domain.NotificationPreferences) (*domain.NotificationPreferences, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return p, nil
}

// ---- private helpers ----

func (s *NotificationService) existing(ctx context.Context, key string) (*domain.Notification, error) {
	n, err := s.repo.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return n, nil
}

func (s *NotificationService) preferencesFor(ctx context.Context, userID string) (*domain.NotificationPreferences, error) {
	p, err := s.prefs.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultPreferences(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return p, nil
}

func (s *NotificationService) advance(ctx context.Context, id string, to domain.Status) (*domain.Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == to {
		return n, nil
	}
	if !n.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrIllegalStatus, n.Status, to)
	}
	if err := s.repo.Transition(ctx, id, n.Status, to, s.now()); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func buildNotification(req domain.CreateNotificationRequest, factors domain.PriorityScoreFactors, now time.Time) *domain.Notification {
	score := priority.Score(factors)
	id := uuid.New().String()

	scheduled := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		scheduled = req.ScheduledFor.UTC()
	}

	n := &domain.Notification{
		ID:              id,
		UserID:          req.UserID,
		Title:           req.Title,
		Message:         req.Message,
		Type:            req.Type,
		Priority:        score.Priority,
		PriorityScore:   score.Total,
		PriorityFactors: factors,
		Status:          domain.StatusPending,
		Metadata:        req.Metadata,
		Actions:         req.Actions,
		DeepLink:        req.DeepLink,
		EntityType:      req.EntityType,
		TriggerEvent:    req.TriggerEvent,
		ScheduledFor:    scheduled,
		Deadline:        req.Deadline,
		ExpiresAt:       req.ExpiresAt,
		RootID:          id,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if n.EscalationBound() {
		// The engine works out the first step's due time on its first look.
		n.NextEscalationAt = &now
	}
	return n
}

// planDeliveries creates one scheduled delivery per channel, due at the
// notification's scheduled time. Due deliveries are queued right away; a
// delivery that misses the queue stays scheduled and the scheduler worker
// retries the enqueue.
func (s *NotificationService) planDeliveries(n *domain.Notification) []*domain.Delivery {
	out := make([]*domain.Delivery, 0, len(n.Channels))
	for _, ch := range n.Channels {
		due := n.ScheduledFor
		out = append(out, &domain.Delivery{
			ID:             uuid.New().String(),
			NotificationID: n.ID,
			Channel:        ch,
			Priority:       n.Priority,
			Status:         domain.DeliveryScheduled,
			MaxAttempts:    s.maxAttempts,
			NextAttemptAt:  &due,
			CreatedAt:      n.CreatedAt,
			UpdatedAt:      n.CreatedAt,
		})
	}
	return out
}

func (s *NotificationService) dispatch(ctx context.Context, deliveries []*domain.Delivery, now time.Time) {
	for _, d := range deliveries {
		if d.NextAttemptAt != nil && d.NextAttemptAt.After(now) {
			continue // scheduler worker handles these
		}
		// Mark first so a fast worker's sent status is never overwritten.
		if err := s.repo.UpdateDeliveryStatus(ctx, d.ID, domain.DeliveryQueued); err != nil {
			s.logger.Error("failed to mark delivery queued", zap.String("delivery_id", d.ID), zap.Error(err))
			continue
		}
		if err := s.q.Enqueue(queue.Item{
			DeliveryID:     d.ID,
			NotificationID: d.NotificationID,
			Channel:        d.Channel,
			Priority:       d.Priority,
		}); err != nil {
			s.logger.Warn("queue full: delivery left for the scheduler",
				zap.String("delivery_id", d.ID), zap.Error(err))
			if err := s.repo.UpdateDeliveryStatus(ctx, d.ID, domain.DeliveryScheduled); err != nil {
				s.logger.Error("failed to reschedule delivery", zap.String("delivery_id", d.ID), zap.Error(err))
			}
			continue
		}
		d.Status = domain.DeliveryQueued
	}
}
