package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/repository"
	"github.com/notifyhub/alertflow/internal/service"
)

func TestRuleService_UpsertRule(t *testing.T) {
	rules := repository.NewMockEscalationRepository()
	svc := service.NewRuleService(rules, repository.NewMockRoleRepository())
	ctx := context.Background()

	if _, err := svc.UpsertRule(ctx, &domain.EscalationRule{EntityType: "leave", TriggerEvent: "requested"}); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for an empty chain, got %v", err)
	}

	rule := &domain.EscalationRule{
		EntityType:   "leave",
		TriggerEvent: "requested",
		DelayHours:   1,
		Active:       true,
		EscalationChain: []domain.EscalationStep{
			{Role: "manager"},
			{Role: "hr", AfterHours: 24},
		},
	}
	saved, err := svc.UpsertRule(ctx, rule)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID == "" || saved.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be set, got %+v", saved)
	}

	replacement := *rule
	replacement.ID = ""
	replacement.DelayHours = 2
	if _, err := svc.UpsertRule(ctx, &replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}

	all, _ := svc.ListRules(ctx)
	if len(all) != 1 || all[0].DelayHours != 2 || all[0].ID != saved.ID {
		t.Fatalf("expected one replaced rule keeping id %s, got %+v", saved.ID, all)
	}
}

func TestRuleService_AssignRole(t *testing.T) {
	roles := repository.NewMockRoleRepository()
	svc := service.NewRuleService(repository.NewMockEscalationRepository(), roles)
	ctx := context.Background()

	if _, err := svc.AssignRole(ctx, &domain.RoleAssignment{Role: "manager"}); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}

	subject := "u-1"
	if _, err := svc.AssignRole(ctx, &domain.RoleAssignment{Role: "manager", UserID: "m-global"}); err != nil {
		t.Fatalf("assign global: %v", err)
	}
	if _, err := svc.AssignRole(ctx, &domain.RoleAssignment{Role: "manager", UserID: "m-1", SubjectUserID: &subject}); err != nil {
		t.Fatalf("assign scoped: %v", err)
	}

	if got, _ := roles.Resolve(ctx, "manager", "u-1"); got != "m-1" {
		t.Errorf("expected scoped manager m-1, got %q", got)
	}
	if got, _ := roles.Resolve(ctx, "manager", "u-2"); got != "m-global" {
		t.Errorf("expected global manager for other subjects, got %q", got)
	}
}
