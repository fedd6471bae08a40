package domain

import "time"

// EscalationStep names the role that receives the notification once the
// lineage has stayed unacted for the step's cumulative delay.
type EscalationStep struct {
	Role       string  `json:"role" yaml:"role"`
	AfterHours int     `json:"after_hours" yaml:"after_hours"`
	UserID     *string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// EscalationRule binds an (entity_type, trigger_event) pair to a chain of steps.
type EscalationRule struct {
	ID              string           `json:"id" yaml:"-"`
	EntityType      string           `json:"entity_type" yaml:"entity_type"`
	TriggerEvent    string           `json:"trigger_event" yaml:"trigger_event"`
	DelayHours      int              `json:"delay_hours" yaml:"delay_hours"`
	EscalationChain []EscalationStep `json:"escalation_chain" yaml:"escalation_chain"`
	Active          bool             `json:"active" yaml:"-"`
	CreatedAt       time.Time        `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time        `json:"updated_at" yaml:"-"`
}

func (r *EscalationRule) Validate() error {
	if r.EntityType == "" || r.TriggerEvent == "" || r.DelayHours < 0 || len(r.EscalationChain) == 0 {
		return ErrInvalidRule
	}
	for _, s := range r.EscalationChain {
		if s.Role == "" || s.AfterHours < 0 {
			return ErrInvalidRule
		}
	}
	return nil
}

// CumulativeDelay is how long a lineage must stay unacted, measured from the
// root's creation, before step i may fire.
func (r *EscalationRule) CumulativeDelay(i int) time.Duration {
	hours := r.DelayHours
	for j := 0; j <= i && j < len(r.EscalationChain); j++ {
		hours += r.EscalationChain[j].AfterHours
	}
	return time.Duration(hours) * time.Hour
}

// EscalationOutcome records whether an escalation attempt produced a notification.
type EscalationOutcome string

const (
	OutcomeEscalated EscalationOutcome = "escalated"
	OutcomeFailed    EscalationOutcome = "failed"
)

// EscalationHistory is the audit row written for every escalation attempt.
type EscalationHistory struct {
	ID                      string            `json:"id"`
	RootID                  string            `json:"root_id"`
	NotificationID          string            `json:"notification_id"`
	EscalatedNotificationID *string           `json:"escalated_notification_id,omitempty"`
	RuleID                  *string           `json:"rule_id,omitempty"`
	FromUserID              string            `json:"from_user_id"`
	ToUserID                *string           `json:"to_user_id,omitempty"`
	EscalationLevel         int               `json:"escalation_level"`
	Reason                  string            `json:"reason"`
	Outcome                 EscalationOutcome `json:"outcome"`
	CreatedAt               time.Time         `json:"created_at"`
}

// RoleAssignment maps a role to a user. A non-nil SubjectUserID scopes the
// assignment to one subject, e.g. the manager of that user.
type RoleAssignment struct {
	Role          string    `json:"role"`
	UserID        string    `json:"user_id"`
	SubjectUserID *string   `json:"subject_user_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (a *RoleAssignment) Validate() error {
	if a.Role == "" || a.UserID == "" {
		return ErrInvalidRole
	}
	return nil
}

// Lineage is a root notification, every escalation descended from it and the
// audit trail of attempts along the way.
type Lineage struct {
	RootID        string               `json:"root_id"`
	Notifications []*Notification      `json:"notifications"`
	History       []*EscalationHistory `json:"history"`
}
