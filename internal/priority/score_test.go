package priority_test

import (
	"testing"
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/priority"
)

func TestBand_Boundaries(t *testing.T) {
	tests := []struct {
		total int
		want  domain.Priority
	}{
		{100, domain.PriorityCritical},
		{91, domain.PriorityCritical},
		{90, domain.PriorityCritical},
		{89, domain.PriorityUrgent},
		{71, domain.PriorityUrgent},
		{70, domain.PriorityUrgent},
		{69, domain.PriorityHigh},
		{46, domain.PriorityHigh},
		{45, domain.PriorityHigh},
		{44, domain.PriorityNormal},
		{21, domain.PriorityNormal},
		{20, domain.PriorityNormal},
		{19, domain.PriorityLow},
		{0, domain.PriorityLow},
	}

	for _, tc := range tests {
		if got := priority.Band(tc.total); got != tc.want {
			t.Errorf("total=%d: expected %s, got %s", tc.total, tc.want, got)
		}
	}
}

func TestScore_DeadlineApprovalScenario(t *testing.T) {
	f := domain.PriorityScoreFactors{
		BaseTypeScore:    60,
		DeadlineModifier: 20,
		RoleModifier:     10,
	}

	got := priority.Score(f)
	if got.Total != 90 {
		t.Fatalf("expected total=90, got %d", got.Total)
	}
	if got.Priority != domain.PriorityCritical {
		t.Fatalf("expected critical, got %s", got.Priority)
	}
}

func TestScore_Clamps(t *testing.T) {
	high := priority.Score(domain.PriorityScoreFactors{BaseTypeScore: 60, DeadlineModifier: 30, CriticalFlag: 20, LegalCompliance: 15})
	if high.Total != 100 || high.Priority != domain.PriorityCritical {
		t.Fatalf("expected clamp to 100/critical, got %+v", high)
	}

	low := priority.Score(domain.PriorityScoreFactors{BaseTypeScore: 10, RoleModifier: -40})
	if low.Total != 0 || low.Priority != domain.PriorityLow {
		t.Fatalf("expected clamp to 0/low, got %+v", low)
	}
}

func TestScore_IsPure(t *testing.T) {
	f := domain.PriorityScoreFactors{BaseTypeScore: 40, DeadlineModifier: 15, RoleModifier: 10, LegalCompliance: 15}
	first := priority.Score(f)
	for i := 0; i < 100; i++ {
		if got := priority.Score(f); got != first {
			t.Fatalf("iteration %d: expected %+v, got %+v", i, first, got)
		}
	}
}

func TestBaseTypeScore_Ordering(t *testing.T) {
	order := []domain.NotificationType{
		domain.TypeDigest, domain.TypeUpdate, domain.TypeReminder,
		domain.TypeDeadline, domain.TypeApproval, domain.TypeEscalation,
	}
	for i := 1; i < len(order); i++ {
		if priority.BaseTypeScore(order[i]) <= priority.BaseTypeScore(order[i-1]) {
			t.Fatalf("expected %s to outweigh %s", order[i], order[i-1])
		}
	}
}

func TestDeadlineModifier(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name     string
		deadline *time.Time
		want     int
	}{
		{"no deadline", nil, 0},
		{"overdue", at(-time.Minute), 30},
		{"due now", at(0), 30},
		{"within a day", at(23 * time.Hour), 25},
		{"within three days", at(48 * time.Hour), 15},
		{"within a week", at(6 * 24 * time.Hour), 5},
		{"far away", at(30 * 24 * time.Hour), 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := priority.DeadlineModifier(tc.deadline, now); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestFactors(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(12 * time.Hour)

	f := priority.Factors(priority.Inputs{
		Type:            domain.TypeDeadline,
		Deadline:        &deadline,
		RecipientRole:   "hr",
		Critical:        true,
		LegalCompliance: true,
	}, now)

	want := domain.PriorityScoreFactors{
		BaseTypeScore:    40,
		DeadlineModifier: 25,
		RoleModifier:     10,
		CriticalFlag:     priority.CriticalBonus,
		LegalCompliance:  priority.LegalComplianceBonus,
	}
	if f != want {
		t.Fatalf("expected %+v, got %+v", want, f)
	}
}

func TestRescore(t *testing.T) {
	f := domain.PriorityScoreFactors{BaseTypeScore: 30, DeadlineModifier: 15}
	nf, res := priority.Rescore(f, domain.TypeEscalation)
	if nf.BaseTypeScore != 60 || nf.DeadlineModifier != 15 {
		t.Fatalf("unexpected factors %+v", nf)
	}
	if res.Total != 75 || res.Priority != domain.PriorityUrgent {
		t.Fatalf("unexpected result %+v", res)
	}
}
