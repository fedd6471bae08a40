package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyhub/alertflow/internal/domain"
)

// MockPreferencesRepository is an in-memory PreferencesRepository for tests.
type MockPreferencesRepository struct {
	mu    sync.RWMutex
	prefs map[string]*domain.NotificationPreferences

	GetErr    error
	UpsertErr error
}

func NewMockPreferencesRepository() *MockPreferencesRepository {
	return &MockPreferencesRepository{prefs: make(map[string]*domain.NotificationPreferences)}
}

func (m *MockPreferencesRepository) Get(_ context.Context, userID string) (*domain.NotificationPreferences, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *MockPreferencesRepository) Upsert(_ context.Context, p *domain.NotificationPreferences) error {
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.prefs[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	clone := *p
	m.prefs[p.UserID] = &clone
	return nil
}

// MockEscalationRepository is an in-memory EscalationRepository for tests.
type MockEscalationRepository struct {
	mu      sync.RWMutex
	rules   map[string]*domain.EscalationRule
	history []*domain.EscalationHistory

	RecordErr error
}

func NewMockEscalationRepository() *MockEscalationRepository {
	return &MockEscalationRepository{rules: make(map[string]*domain.EscalationRule)}
}

func ruleKey(entityType, triggerEvent string) string {
	return entityType + "\x00" + triggerEvent
}

func (m *MockEscalationRepository) GetRule(_ context.Context, entityType, triggerEvent string) (*domain.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleKey(entityType, triggerEvent)]
	if !ok || !r.Active {
		return nil, domain.ErrRuleNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MockEscalationRepository) ListRules(_ context.Context) ([]*domain.EscalationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.EscalationRule, 0, len(m.rules))
	for _, r := range m.rules {
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].TriggerEvent < out[j].TriggerEvent
	})
	return out, nil
}

func (m *MockEscalationRepository) UpsertRule(_ context.Context, r *domain.EscalationRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ruleKey(r.EntityType, r.TriggerEvent)
	if existing, ok := m.rules[key]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
	}
	clone := *r
	m.rules[key] = &clone
	return nil
}

func (m *MockEscalationRepository) RecordHistory(_ context.Context, h *domain.EscalationHistory) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *h
	m.history = append(m.history, &clone)
	return nil
}

func (m *MockEscalationRepository) ListHistory(_ context.Context, rootID string) ([]*domain.EscalationHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.EscalationHistory
	for _, h := range m.history {
		if h.RootID == rootID {
			clone := *h
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockEscalationRepository) HasFailedAttempt(_ context.Context, rootID string, level int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.history {
		if h.RootID == rootID && h.EscalationLevel == level && h.Outcome == domain.OutcomeFailed {
			return true, nil
		}
	}
	return false, nil
}

// MockRoleRepository is an in-memory RoleRepository for tests.
type MockRoleRepository struct {
	mu          sync.RWMutex
	assignments []*domain.RoleAssignment
}

func NewMockRoleRepository() *MockRoleRepository {
	return &MockRoleRepository{}
}

func (m *MockRoleRepository) Assign(_ context.Context, a *domain.RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.assignments {
		if existing.Role == a.Role && sameSubject(existing.SubjectUserID, a.SubjectUserID) {
			clone := *a
			m.assignments[i] = &clone
			return nil
		}
	}
	clone := *a
	m.assignments = append(m.assignments, &clone)
	return nil
}

func (m *MockRoleRepository) Resolve(_ context.Context, role, subjectUserID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	global := ""
	for _, a := range m.assignments {
		if a.Role != role {
			continue
		}
		if a.SubjectUserID != nil && *a.SubjectUserID == subjectUserID {
			return a.UserID, nil
		}
		if a.SubjectUserID == nil && global == "" {
			global = a.UserID
		}
	}
	if global == "" {
		return "", domain.ErrRoleUnassigned
	}
	return global, nil
}

func (m *MockRoleRepository) RoleOf(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.UserID == userID {
			return a.Role, nil
		}
	}
	return "", nil
}

func sameSubject(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// MockRateLimitRepository is an in-memory RateLimitRepository for tests.
type MockRateLimitRepository struct {
	mu   sync.Mutex
	rows []domain.RateLimitRequest

	CountErr  error
	RecordErr error
}

func NewMockRateLimitRepository() *MockRateLimitRepository {
	return &MockRateLimitRepository{}
}

func (m *MockRateLimitRepository) CountSince(_ context.Context, clientID, endpoint string, since int64) (int, int64, error) {
	if m.CountErr != nil {
		return 0, 0, m.CountErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		count  int
		oldest int64
	)
	for _, r := range m.rows {
		if r.ClientID != clientID || r.Endpoint != endpoint || r.Timestamp < since {
			continue
		}
		if count == 0 || r.Timestamp < oldest {
			oldest = r.Timestamp
		}
		count++
	}
	return count, oldest, nil
}

func (m *MockRateLimitRepository) Record(_ context.Context, r domain.RateLimitRequest) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, r)
	return nil
}

func (m *MockRateLimitRepository) Prune(_ context.Context, before int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var removed int64
	for _, r := range m.rows {
		if r.Timestamp < before {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return removed, nil
}

// Len returns the number of stored rows.
func (m *MockRateLimitRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
