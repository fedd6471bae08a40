package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
)

func TestCreateNotificationRequest_Validate(t *testing.T) {
	valid := domain.CreateNotificationRequest{
		UserID:  "user-1",
		Title:   "Sick leave certificate due",
		Message: "Upload the certificate for case 42",
		Type:    domain.TypeDeadline,
	}

	t.Run("valid request passes", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("missing user", func(t *testing.T) {
		r := valid
		r.UserID = ""
		if err := r.Validate(); err != domain.ErrInvalidUser {
			t.Fatalf("expected ErrInvalidUser, got %v", err)
		}
	})

	t.Run("invalid type", func(t *testing.T) {
		r := valid
		r.Type = "newsletter"
		if err := r.Validate(); err != domain.ErrInvalidType {
			t.Fatalf("expected ErrInvalidType, got %v", err)
		}
	})

	t.Run("empty title", func(t *testing.T) {
		r := valid
		r.Title = ""
		if err := r.Validate(); err != domain.ErrInvalidTitle {
			t.Fatalf("expected ErrInvalidTitle, got %v", err)
		}
	})

	t.Run("message too long", func(t *testing.T) {
		r := valid
		r.Message = strings.Repeat("x", 4097)
		if err := r.Validate(); err != domain.ErrInvalidContent {
			t.Fatalf("expected ErrInvalidContent, got %v", err)
		}
	})

	t.Run("message at max length passes", func(t *testing.T) {
		r := valid
		r.Message = strings.Repeat("x", 4096)
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error at max length, got %v", err)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		r := valid
		r.Channels = []domain.Channel{domain.ChannelEmail, "fax"}
		if err := r.Validate(); err != domain.ErrInvalidChannel {
			t.Fatalf("expected ErrInvalidChannel, got %v", err)
		}
	})

	t.Run("expiry before schedule", func(t *testing.T) {
		r := valid
		at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		before := at.Add(-time.Hour)
		r.ScheduledFor = &at
		r.ExpiresAt = &before
		if err := r.Validate(); err != domain.ErrInvalidExpiry {
			t.Fatalf("expected ErrInvalidExpiry, got %v", err)
		}
	})

	t.Run("all types accepted", func(t *testing.T) {
		for _, typ := range []domain.NotificationType{
			domain.TypeDeadline, domain.TypeApproval, domain.TypeUpdate,
			domain.TypeReminder, domain.TypeEscalation, domain.TypeDigest,
		} {
			r := valid
			r.Type = typ
			if err := r.Validate(); err != nil {
				t.Fatalf("type %q: expected no error, got %v", typ, err)
			}
		}
	})
}

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPending, domain.StatusSent, true},
		{domain.StatusSent, domain.StatusDelivered, true},
		{domain.StatusDelivered, domain.StatusRead, true},
		{domain.StatusRead, domain.StatusActed, true},
		{domain.StatusPending, domain.StatusActed, true},
		{domain.StatusRead, domain.StatusSent, false},
		{domain.StatusSent, domain.StatusSent, false},
		{domain.StatusPending, domain.StatusFailed, true},
		{domain.StatusRead, domain.StatusFailed, true},
		{domain.StatusActed, domain.StatusFailed, false},
		{domain.StatusFailed, domain.StatusSent, false},
		{domain.StatusActed, domain.StatusRead, false},
	}

	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestPriority_Rank(t *testing.T) {
	order := []domain.Priority{
		domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh,
		domain.PriorityUrgent, domain.PriorityCritical,
	}
	for i := 1; i < len(order); i++ {
		if !order[i].AtLeast(order[i-1]) || order[i-1].AtLeast(order[i]) {
			t.Fatalf("expected %s above %s", order[i], order[i-1])
		}
	}
	if domain.Priority("whenever").IsValid() {
		t.Fatal("unknown priority must be invalid")
	}
}

func TestEscalationRule_CumulativeDelay(t *testing.T) {
	rule := domain.EscalationRule{
		DelayHours: 1,
		EscalationChain: []domain.EscalationStep{
			{Role: "manager", AfterHours: 0},
			{Role: "hr", AfterHours: 24},
		},
	}

	if got := rule.CumulativeDelay(0); got != time.Hour {
		t.Fatalf("step 0: expected 1h, got %v", got)
	}
	if got := rule.CumulativeDelay(1); got != 25*time.Hour {
		t.Fatalf("step 1: expected 25h, got %v", got)
	}
}

func TestEscalationRule_Validate(t *testing.T) {
	rule := domain.EscalationRule{
		EntityType:      "sick_leave_case",
		TriggerEvent:    "certificate_missing",
		EscalationChain: []domain.EscalationStep{{Role: "manager"}},
	}
	if err := rule.Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	empty := rule
	empty.EscalationChain = nil
	if err := empty.Validate(); err != domain.ErrInvalidRule {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}

	negative := rule
	negative.DelayHours = -1
	if err := negative.Validate(); err != domain.ErrInvalidRule {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestDelivery_GaveUp(t *testing.T) {
	next := time.Now().Add(time.Minute)
	tests := []struct {
		name string
		d    domain.Delivery
		want bool
	}{
		{"retry pending", domain.Delivery{Status: domain.DeliveryFailed, Attempts: 1, MaxAttempts: 3, NextAttemptAt: &next}, false},
		{"attempts exhausted", domain.Delivery{Status: domain.DeliveryFailed, Attempts: 3, MaxAttempts: 3}, true},
		{"rejected early", domain.Delivery{Status: domain.DeliveryFailed, Attempts: 1, MaxAttempts: 3}, true},
		{"still queued", domain.Delivery{Status: domain.DeliveryQueued, Attempts: 3, MaxAttempts: 3}, false},
		{"sent", domain.Delivery{Status: domain.DeliverySent, Attempts: 1, MaxAttempts: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.GaveUp(); got != tt.want {
				t.Errorf("GaveUp() = %v, want %v", got, tt.want)
			}
		})
	}
}
