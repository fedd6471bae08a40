package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/notifyhub/alertflow/internal/domain"
)

// ChannelLimiters holds one token bucket per delivery channel. It throttles
// outbound provider calls and is unrelated to the inbound sliding window.
// Burst equals the rate so idle time never saves up extra capacity.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// NewChannelLimiters allows ratePerSec sends per second on every channel.
func NewChannelLimiters(ratePerSec int) *ChannelLimiters {
	cl := &ChannelLimiters{limiters: make(map[domain.Channel]*rate.Limiter, len(domain.AllChannels))}
	for _, ch := range domain.AllChannels {
		cl.limiters[ch] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return cl
}

// Wait blocks until the channel's bucket grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
// Unknown channels are not throttled.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
