package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/ratelimiter"
)

// Checker is satisfied by *ratelimiter.Limiter.
type Checker interface {
	Check(ctx context.Context, req ratelimiter.CheckRequest) (domain.RateLimitDecision, error)
}

// ClientID identifies the caller for rate limiting: the authenticated user
// when known, else the remote address. Run after chi's RealIP so the
// address reflects X-Forwarded-For.
func ClientID(r *http.Request, userID string) string {
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID != "" {
		return "uid:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d, plus
// Retry-After when the call was limited.
func SetRateLimitHeaders(w http.ResponseWriter, d domain.RateLimitDecision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.MaxRequests))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Unix()+int64(d.RetryAfter), 10))
	if d.Limited {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}

// RateLimit guards the wrapped route with the sliding-window limiter, keyed
// by ClientID and the route's endpoint name.
func RateLimit(l Checker, endpoint string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Check(r.Context(), ratelimiter.CheckRequest{
				ClientID: ClientID(r, ""),
				Endpoint: endpoint,
			})
			if err != nil {
				Logger(r.Context(), logger).Warn("rate limit check failed",
					zap.String("endpoint", endpoint),
					zap.Error(err),
				)
				status := http.StatusInternalServerError
				if errors.Is(err, domain.ErrRateLimitUnavailable) {
					status = http.StatusServiceUnavailable
				}
				writeJSON(w, status, map[string]string{"error": err.Error()})
				return
			}

			SetRateLimitHeaders(w, d, time.Now())
			if d.Limited {
				writeJSON(w, http.StatusTooManyRequests, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
