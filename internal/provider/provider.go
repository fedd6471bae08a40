package provider

import (
	"context"
	"fmt"

	"github.com/notifyhub/alertflow/internal/domain"
)

// SendRequest is the JSON body posted to the external gateway.
type SendRequest struct {
	NotificationID string `json:"notificationId"`
	To             string `json:"to"`
	Channel        string `json:"channel"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	DeepLink       string `json:"deepLink,omitempty"`
}

// SendResponse maps the provider's 202 Accepted response body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Provider abstracts delivery of one notification over one channel.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, n *domain.Notification, ch domain.Channel) (*SendResponse, error)
}

// Registry picks the provider for a channel.
type Registry map[domain.Channel]Provider

// For returns the provider registered for ch.
func (r Registry) For(ch domain.Channel) (Provider, error) {
	p, ok := r[ch]
	if !ok {
		return nil, fmt.Errorf("no provider for channel %q", ch)
	}
	return p, nil
}

func newSendRequest(n *domain.Notification, ch domain.Channel) SendRequest {
	req := SendRequest{
		NotificationID: n.ID,
		To:             n.UserID,
		Channel:        string(ch),
		Priority:       string(n.Priority),
		Title:          n.Title,
		Content:        n.Message,
	}
	if n.DeepLink != nil {
		req.DeepLink = *n.DeepLink
	}
	return req
}
