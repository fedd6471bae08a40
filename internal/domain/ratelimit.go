package domain

// RateLimitRequest is one admitted call, appended to the request log.
type RateLimitRequest struct {
	ClientID  string `json:"client_id"`
	Endpoint  string `json:"endpoint"`
	Timestamp int64  `json:"timestamp"`
}

// RateLimitDecision is returned for every rate-limit check.
type RateLimitDecision struct {
	Limited         bool `json:"limited"`
	CurrentRequests int  `json:"current_requests"`
	MaxRequests     int  `json:"max_requests"`
	Remaining       int  `json:"remaining"`
	WindowSeconds   int  `json:"window_seconds"`
	RetryAfter      int  `json:"retry_after"`
}
