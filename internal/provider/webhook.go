package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
)

// ErrRejected marks a gateway answer that retrying cannot fix, such as a
// malformed recipient. Workers fail the delivery without further attempts.
var ErrRejected = errors.New("provider rejected delivery")

// WebhookProvider hands email, SMS and push to an HTTP gateway. Each channel
// posts to <base>/<channel>.
type WebhookProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewWebhookProvider(baseURL string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts one channel delivery. 200 and 202 are success; other 4xx
// answers except 429 wrap ErrRejected; anything else is retryable.
func (p *WebhookProvider) Send(ctx context.Context, n *domain.Notification, ch domain.Channel) (*SendResponse, error) {
	body, err := json.Marshal(newSendRequest(n, ch))
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+string(ch), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", ch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", n.ID+":"+string(ch))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", ch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusAccepted:
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("gateway status %d for %s", resp.StatusCode, ch)
	default:
		return nil, fmt.Errorf("%w: gateway status %d for %s", ErrRejected, resp.StatusCode, ch)
	}

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", ch, err)
	}
	if out.MessageID == "" {
		return nil, fmt.Errorf("gateway accepted %s without a message id", ch)
	}
	return &out, nil
}

var _ Provider = (*WebhookProvider)(nil)
