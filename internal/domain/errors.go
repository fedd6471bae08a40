package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict: idempotency key already exists")
	ErrInvalidUser      = errors.New("user_id must not be empty")
	ErrInvalidType      = errors.New("invalid type: must be deadline, approval, update, reminder, escalation, or digest")
	ErrInvalidChannel   = errors.New("invalid channel: must be in_app, email, sms, or push")
	ErrInvalidPriority  = errors.New("invalid priority: must be low, normal, high, urgent, or critical")
	ErrInvalidTitle     = errors.New("title must be between 1 and 255 characters")
	ErrInvalidContent   = errors.New("message must be between 1 and 4096 characters")
	ErrInvalidExpiry    = errors.New("expires_at must be after scheduled_for")
	ErrIllegalStatus    = errors.New("illegal status transition")
	ErrInvalidEndpoint  = errors.New("endpoint must not be empty")
	ErrInvalidClient    = errors.New("client identity must not be empty")
	ErrInvalidRateLimit = errors.New("window_seconds and max_requests must be positive")
	ErrInvalidRule      = errors.New("escalation rule needs entity_type, trigger_event, a non-negative delay and at least one step")
	ErrInvalidRole      = errors.New("role and user_id must not be empty")
	ErrInvalidQuietHour = errors.New("quiet hours must use HH:MM and a known timezone")

	ErrRuleNotFound         = errors.New("escalation rule not found")
	ErrRoleUnassigned       = errors.New("no user assigned to role")
	ErrRateLimitUnavailable = errors.New("rate limit store unavailable")
	ErrQueueFull            = errors.New("queue is at capacity, try again later")
	ErrLineageLevelTaken    = errors.New("lineage already has a notification at this escalation level")
)
