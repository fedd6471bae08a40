package queue

import "github.com/notifyhub/alertflow/internal/domain"

// Item is the minimal data placed on the queue.
// Workers load the Delivery and its Notification by id, keeping the queue
// lightweight and the stored rows authoritative.
type Item struct {
	DeliveryID     string
	NotificationID string
	Channel        domain.Channel
	Priority       domain.Priority
}

// Tier is one of the three dispatch lanes.
type Tier int

const (
	TierLow Tier = iota
	TierNormal
	TierHigh
)

// TierFor folds the five priority bands into three lanes:
// critical and urgent share the high lane, high and normal the normal lane.
func TierFor(p domain.Priority) (Tier, bool) {
	switch p {
	case domain.PriorityCritical, domain.PriorityUrgent:
		return TierHigh, true
	case domain.PriorityHigh, domain.PriorityNormal:
		return TierNormal, true
	case domain.PriorityLow:
		return TierLow, true
	}
	return 0, false
}
