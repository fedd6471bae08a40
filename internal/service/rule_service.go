package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/repository"
)

// RuleService manages escalation rules and the role directory that the
// escalation engine resolves chain steps against.
type RuleService struct {
	rules repository.EscalationRepository
	roles repository.RoleRepository
	now   func() time.Time
}

func NewRuleService(rules repository.EscalationRepository, roles repository.RoleRepository) *RuleService {
	return &RuleService{
		rules: rules,
		roles: roles,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *RuleService) ListRules(ctx context.Context) ([]*domain.EscalationRule, error) {
	return s.rules.ListRules(ctx)
}

// UpsertRule validates r and stores it, replacing any rule for the same
// (entity_type, trigger_event) pair.
func (s *RuleService) UpsertRule(ctx context.Context, r *domain.EscalationRule) (*domain.EscalationRule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if err := s.rules.UpsertRule(ctx, r); err != nil {
		return nil, fmt.Errorf("save escalation rule: %w", err)
	}
	return r, nil
}

func (s *RuleService) AssignRole(ctx context.Context, a *domain.RoleAssignment) (*domain.RoleAssignment, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if a.SubjectUserID != nil && *a.SubjectUserID == "" {
		a.SubjectUserID = nil
	}
	a.CreatedAt = s.now()
	if err := s.roles.Assign(ctx, a); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	return a, nil
}
