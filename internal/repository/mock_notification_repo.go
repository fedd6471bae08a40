package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	deliveries    map[string]*domain.Delivery

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
	TransitionErr          error
	CreateDigestErr        error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[string]*domain.Notification),
		deliveries:    make(map[string]*domain.Delivery),
	}
}

// Put stores n directly, bypassing validation. Tests use it to seed state.
func (m *MockNotificationRepository) Put(n *domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *n
	m.notifications[n.ID] = &clone
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification, deliveries []*domain.Delivery) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.IdempotencyKey != nil {
		for _, existing := range m.notifications {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *n.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	for _, existing := range m.notifications {
		if existing.RootID == n.RootID && existing.EscalationLevel == n.EscalationLevel {
			return domain.ErrLineageLevelTaken
		}
	}
	clone := *n
	m.notifications[n.ID] = &clone
	for _, d := range deliveries {
		dc := *d
		m.deliveries[d.ID] = &dc
	}
	return nil
}

func (m *MockNotificationRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*domain.Notification
	for _, n := range m.notifications {
		if f.UserID != nil && n.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		if f.From != nil && n.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && n.CreatedAt.After(*f.To) {
			continue
		}
		clone := *n
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		end := start + f.Limit
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *MockNotificationRepository) Transition(_ context.Context, id string, from, to domain.Status, at time.Time) error {
	if m.TransitionErr != nil {
		return m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status != from {
		return domain.ErrIllegalStatus
	}
	n.Status = to
	n.UpdatedAt = at
	stamp := func(p **time.Time) {
		if *p == nil {
			t := at
			*p = &t
		}
	}
	switch to {
	case domain.StatusSent:
		stamp(&n.SentAt)
	case domain.StatusDelivered:
		stamp(&n.DeliveredAt)
	case domain.StatusRead:
		stamp(&n.ReadAt)
	case domain.StatusActed:
		stamp(&n.ActedAt)
	}
	return nil
}

func (m *MockNotificationRepository) ListLineage(_ context.Context, rootID string) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lineageLocked(rootID), nil
}

func (m *MockNotificationRepository) lineageLocked(rootID string) []*domain.Notification {
	var out []*domain.Notification
	for _, n := range m.notifications {
		if n.RootID == rootID {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EscalationLevel != out[j].EscalationLevel {
			return out[i].EscalationLevel < out[j].EscalationLevel
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *MockNotificationRepository) FindEscalationRoots(_ context.Context, now time.Time, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var roots []*domain.Notification
	for _, n := range m.notifications {
		if n.EscalationLevel != 0 || n.NextEscalationAt == nil || n.NextEscalationAt.After(now) {
			continue
		}
		clone := *n
		roots = append(roots, &clone)
	}
	sort.Slice(roots, func(i, j int) bool {
		if !roots[i].NextEscalationAt.Equal(*roots[j].NextEscalationAt) {
			return roots[i].NextEscalationAt.Before(*roots[j].NextEscalationAt)
		}
		return roots[i].ID < roots[j].ID
	})
	if limit > 0 && len(roots) > limit {
		roots = roots[:limit]
	}
	return roots, nil
}

func (m *MockNotificationRepository) ScheduleEscalation(_ context.Context, rootID string, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[rootID]
	if !ok || n.EscalationLevel != 0 {
		return domain.ErrNotFound
	}
	if next == nil {
		n.NextEscalationAt = nil
		return nil
	}
	at := *next
	n.NextEscalationAt = &at
	return nil
}

func (m *MockNotificationRepository) FindDeferred(_ context.Context, limit int) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	for _, n := range m.notifications {
		if n.Deferred && n.DigestID == nil && !n.IsDigest && n.Status == domain.StatusPending {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockNotificationRepository) CreateDigest(_ context.Context, digest *domain.Notification, deliveries []*domain.Delivery, memberIDs []string) error {
	if m.CreateDigestErr != nil {
		return m.CreateDigestErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *digest
	m.notifications[digest.ID] = &clone
	for _, d := range deliveries {
		dc := *d
		m.deliveries[d.ID] = &dc
	}
	for _, id := range memberIDs {
		n, ok := m.notifications[id]
		if !ok || n.Status != domain.StatusPending || n.DigestID != nil {
			continue
		}
		digestID := digest.ID
		sentAt := digest.CreatedAt
		n.DigestID = &digestID
		n.Status = domain.StatusSent
		if n.SentAt == nil {
			n.SentAt = &sentAt
		}
		n.UpdatedAt = digest.CreatedAt
	}
	return nil
}

func (m *MockNotificationRepository) GetDelivery(_ context.Context, id string) (*domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *d
	return &clone, nil
}

func (m *MockNotificationRepository) ListDeliveries(_ context.Context, notificationID string) ([]*domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Delivery
	for _, d := range m.deliveries {
		if d.NotificationID == notificationID {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func (m *MockNotificationRepository) UpdateDeliveryStatus(_ context.Context, id string, status domain.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		d.Status = status
	}
	return nil
}

func (m *MockNotificationRepository) MarkDeliverySent(_ context.Context, id, providerMsgID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		d.Status = domain.DeliverySent
		d.Attempts++
		d.ProviderMsgID = &providerMsgID
		d.SentAt = &sentAt
		d.LastError = nil
		d.NextAttemptAt = nil
	}
	return nil
}

func (m *MockNotificationRepository) ScheduleDeliveryRetry(_ context.Context, id string, attempts int, next time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		d.Status = domain.DeliveryFailed
		d.Attempts = attempts
		d.NextAttemptAt = &next
		d.LastError = &errMsg
	}
	return nil
}

func (m *MockNotificationRepository) MarkDeliveryFailed(_ context.Context, id string, attempts int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deliveries[id]; ok {
		d.Status = domain.DeliveryFailed
		d.Attempts = attempts
		d.LastError = &errMsg
		d.NextAttemptAt = nil
	}
	return nil
}

func (m *MockNotificationRepository) FindDueRetries(_ context.Context, now time.Time) ([]*domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Delivery
	for _, d := range m.deliveries {
		if d.Status == domain.DeliveryFailed && !d.Exhausted() && d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) FindDueScheduled(_ context.Context, now time.Time) ([]*domain.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Delivery
	for _, d := range m.deliveries {
		if d.Status == domain.DeliveryScheduled && d.NextAttemptAt != nil && !d.NextAttemptAt.After(now) {
			clone := *d
			out = append(out, &clone)
		}
	}
	return out, nil
}
