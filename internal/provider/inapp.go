package provider

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/alertflow/internal/domain"
)

// Publisher pushes a message to a user's live sessions and reports how many
// received it. realtime.Hub satisfies it.
type Publisher interface {
	Publish(userID string, msg any) int
}

// InAppMessage is the frame written to websocket clients.
type InAppMessage struct {
	Event        string               `json:"event"`
	Notification *domain.Notification `json:"notification"`
}

// InAppProvider delivers the in_app channel. The stored notification is the
// in-app inbox itself, so delivery succeeds even when the user has no open
// session; live sessions are pushed the new row.
type InAppProvider struct {
	publisher Publisher
	now       func() time.Time
}

func NewInAppProvider(publisher Publisher) *InAppProvider {
	return &InAppProvider{publisher: publisher, now: time.Now}
}

func (p *InAppProvider) Send(_ context.Context, n *domain.Notification, _ domain.Channel) (*SendResponse, error) {
	status := "stored"
	if p.publisher.Publish(n.UserID, InAppMessage{Event: "notification.created", Notification: n}) > 0 {
		status = "pushed"
	}
	return &SendResponse{
		MessageID: uuid.NewString(),
		Status:    status,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}, nil
}

var _ Provider = (*InAppProvider)(nil)
