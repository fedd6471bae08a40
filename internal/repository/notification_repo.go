package repository

import (
	"context"
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
)

// NotificationRepository defines all persistence operations for notifications
// and their per-channel deliveries.
// The pgx implementation is in pg_notification_repo.go and pg_delivery_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
type NotificationRepository interface {
	// Create persists n together with its deliveries in one transaction.
	Create(ctx context.Context, n *domain.Notification, deliveries []*domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)
	// Transition moves id from one status to another, stamping the matching
	// timestamp column. It returns ErrIllegalStatus when the stored status is
	// no longer from.
	Transition(ctx context.Context, id string, from, to domain.Status, at time.Time) error

	ListLineage(ctx context.Context, rootID string) ([]*domain.Notification, error)
	// FindEscalationRoots returns bound roots whose next_escalation_at is at
	// or before now, earliest first.
	FindEscalationRoots(ctx context.Context, now time.Time, limit int) ([]*domain.Notification, error)
	// ScheduleEscalation stores when a root is next due for evaluation. A nil
	// time retires the lineage from the sweep.
	ScheduleEscalation(ctx context.Context, rootID string, next *time.Time) error

	FindDeferred(ctx context.Context, limit int) ([]*domain.Notification, error)
	// CreateDigest persists digest and marks every member as absorbed by it.
	CreateDigest(ctx context.Context, digest *domain.Notification, deliveries []*domain.Delivery, memberIDs []string) error

	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	ListDeliveries(ctx context.Context, notificationID string) ([]*domain.Delivery, error)
	UpdateDeliveryStatus(ctx context.Context, id string, status domain.DeliveryStatus) error
	MarkDeliverySent(ctx context.Context, id, providerMsgID string, sentAt time.Time) error
	ScheduleDeliveryRetry(ctx context.Context, id string, attempts int, next time.Time, errMsg string) error
	MarkDeliveryFailed(ctx context.Context, id string, attempts int, errMsg string) error
	FindDueRetries(ctx context.Context, now time.Time) ([]*domain.Delivery, error)
	FindDueScheduled(ctx context.Context, now time.Time) ([]*domain.Delivery, error)
}

// PreferencesRepository stores one preferences row per user.
type PreferencesRepository interface {
	// Get returns ErrNotFound when the user never stored preferences.
	Get(ctx context.Context, userID string) (*domain.NotificationPreferences, error)
	Upsert(ctx context.Context, p *domain.NotificationPreferences) error
}

// EscalationRepository stores escalation rules and the escalation audit trail.
type EscalationRepository interface {
	GetRule(ctx context.Context, entityType, triggerEvent string) (*domain.EscalationRule, error)
	ListRules(ctx context.Context) ([]*domain.EscalationRule, error)
	UpsertRule(ctx context.Context, r *domain.EscalationRule) error

	RecordHistory(ctx context.Context, h *domain.EscalationHistory) error
	ListHistory(ctx context.Context, rootID string) ([]*domain.EscalationHistory, error)
	HasFailedAttempt(ctx context.Context, rootID string, level int) (bool, error)
}

// RoleRepository resolves roles to users.
type RoleRepository interface {
	Assign(ctx context.Context, a *domain.RoleAssignment) error
	// Resolve prefers an assignment scoped to subjectUserID over a global one.
	// It returns ErrRoleUnassigned when neither exists.
	Resolve(ctx context.Context, role, subjectUserID string) (string, error)
	// RoleOf returns the first role held by userID, or "" when it holds none.
	RoleOf(ctx context.Context, userID string) (string, error)
}

// RateLimitRepository is the request log behind the sliding-window limiter.
type RateLimitRepository interface {
	// CountSince counts rows for (clientID, endpoint) with timestamp >= since
	// and returns the oldest counted timestamp (0 when none).
	CountSince(ctx context.Context, clientID, endpoint string, since int64) (count int, oldest int64, err error)
	Record(ctx context.Context, r domain.RateLimitRequest) error
	// Prune removes rows older than before and returns how many went.
	Prune(ctx context.Context, before int64) (int64, error)
}
