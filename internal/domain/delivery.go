package domain

import "time"

// DeliveryStatus tracks one channel's delivery of a notification.
type DeliveryStatus string

const (
	DeliveryScheduled DeliveryStatus = "scheduled"
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the per-channel queue item for a notification. Channels of the
// same notification succeed or fail independently.
type Delivery struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notification_id"`
	Channel        Channel        `json:"channel"`
	Priority       Priority       `json:"priority"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	ProviderMsgID  *string        `json:"provider_message_id,omitempty"`
	LastError      *string        `json:"last_error,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Exhausted reports whether no further attempt is allowed.
func (d *Delivery) Exhausted() bool {
	return d.Attempts >= d.MaxAttempts
}

// GaveUp reports a failed delivery with no retry pending, either because
// attempts ran out or because the provider rejected it outright.
func (d *Delivery) GaveUp() bool {
	return d.Status == DeliveryFailed && (d.Exhausted() || d.NextAttemptAt == nil)
}
