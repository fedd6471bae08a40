package domain

import "time"

// NotificationType classifies the business event behind a notification.
type NotificationType string

const (
	TypeDeadline   NotificationType = "deadline"
	TypeApproval   NotificationType = "approval"
	TypeUpdate     NotificationType = "update"
	TypeReminder   NotificationType = "reminder"
	TypeEscalation NotificationType = "escalation"
	TypeDigest     NotificationType = "digest"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeDeadline, TypeApproval, TypeUpdate, TypeReminder, TypeEscalation, TypeDigest:
		return true
	}
	return false
}

// Priority is the discrete band derived from a priority score.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

func (p Priority) IsValid() bool {
	return p.Rank() >= 0
}

// Rank orders priorities from low (0) to critical (4). Unknown values rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	case PriorityCritical:
		return 4
	}
	return -1
}

// AtLeast reports whether p is the same band as other or a higher one.
func (p Priority) AtLeast(other Priority) bool {
	return p.Rank() >= other.Rank()
}

// Channel is a delivery channel for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// AllChannels lists every channel in display order.
var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) IsValid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusActed     Status = "acted"
	StatusFailed    Status = "failed"
)

func (s Status) step() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusActed:
		return 4
	}
	return -1
}

func (s Status) IsValid() bool {
	return s == StatusFailed || s.step() >= 0
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusActed || s == StatusFailed
}

// AwaitingAction reports whether the notification still expects a response.
func (s Status) AwaitingAction() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// CanTransition reports whether s may advance to next. Status only moves
// forward along pending→sent→delivered→read→acted; failed is reachable from
// every non-terminal status.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.step() > s.step()
}

// PriorityScoreFactors are the weighted inputs to a priority score.
type PriorityScoreFactors struct {
	BaseTypeScore    int `json:"base_type_score"`
	DeadlineModifier int `json:"deadline_modifier"`
	RoleModifier     int `json:"role_modifier"`
	CriticalFlag     int `json:"critical_flag"`
	LegalCompliance  int `json:"legal_compliance"`
}

// DigestItem is one line of a digest notification.
type DigestItem struct {
	Type     NotificationType `json:"type"`
	Title    string           `json:"title"`
	Count    *int             `json:"count,omitempty"`
	DeepLink *string          `json:"deep_link,omitempty"`
}

// Action is a call-to-action rendered alongside a notification.
type Action struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Notification is the core domain entity.
type Notification struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	Title           string               `json:"title"`
	Message         string               `json:"message"`
	Type            NotificationType     `json:"type"`
	Priority        Priority             `json:"priority"`
	PriorityScore   int                  `json:"priority_score"`
	PriorityFactors PriorityScoreFactors `json:"priority_factors"`
	Channels        []Channel            `json:"channels"`
	Status          Status               `json:"status"`

	Metadata       map[string]any `json:"metadata,omitempty"`
	Actions        []Action       `json:"actions,omitempty"`
	DeepLink       *string        `json:"deep_link,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`

	EntityType   *string `json:"entity_type,omitempty"`
	TriggerEvent *string `json:"trigger_event,omitempty"`

	ScheduledFor time.Time  `json:"scheduled_for"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	RootID          string  `json:"root_id"`
	IsEscalated     bool    `json:"is_escalated"`
	EscalatedFrom   *string `json:"escalated_from,omitempty"`
	EscalationLevel int     `json:"escalation_level"`
	// NextEscalationAt is set on bound roots only: when the engine should
	// next look at the lineage. Nil once the lineage can no longer escalate.
	NextEscalationAt *time.Time `json:"next_escalation_at,omitempty"`

	IsDigest    bool         `json:"is_digest"`
	DigestItems []DigestItem `json:"digest_items,omitempty"`
	DigestID    *string      `json:"digest_id,omitempty"`
	Deferred    bool         `json:"deferred"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the notification's expiry has passed at now.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// EscalationBound reports whether the notification names an escalation rule.
func (n *Notification) EscalationBound() bool {
	return n.EntityType != nil && *n.EntityType != "" &&
		n.TriggerEvent != nil && *n.TriggerEvent != ""
}

// CreateNotificationRequest is the inbound payload for a single notification.
type CreateNotificationRequest struct {
	UserID          string           `json:"user_id"`
	Title           string           `json:"title"`
	Message         string           `json:"message"`
	Type            NotificationType `json:"type"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Actions         []Action         `json:"actions,omitempty"`
	DeepLink        *string          `json:"deep_link,omitempty"`
	Channels        []Channel        `json:"channels,omitempty"`
	ScheduledFor    *time.Time       `json:"scheduled_for,omitempty"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	EntityType      *string          `json:"entity_type,omitempty"`
	TriggerEvent    *string          `json:"trigger_event,omitempty"`
	Critical        bool             `json:"critical,omitempty"`
	LegalCompliance bool             `json:"legal_compliance,omitempty"`
}

func (r *CreateNotificationRequest) Validate() error {
	if r.UserID == "" {
		return ErrInvalidUser
	}
	if !r.Type.IsValid() {
		return ErrInvalidType
	}
	if r.Title == "" || len(r.Title) > 255 {
		return ErrInvalidTitle
	}
	if r.Message == "" || len(r.Message) > 4096 {
		return ErrInvalidContent
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
	}
	if r.ExpiresAt != nil && r.ScheduledFor != nil && !r.ExpiresAt.After(*r.ScheduledFor) {
		return ErrInvalidExpiry
	}
	return nil
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	UserID *string
	Status *Status
	Type   *NotificationType
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}
