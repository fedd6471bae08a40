package domain

import (
	"fmt"
	"time"
)

// QuietHours is a daily window in the user's timezone during which
// interruptive channels are suppressed. End may be earlier than Start for
// windows that span midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

func (q QuietHours) Validate() error {
	if !q.Enabled {
		return nil
	}
	if _, err := parseClock(q.Start); err != nil {
		return ErrInvalidQuietHour
	}
	if _, err := parseClock(q.End); err != nil {
		return ErrInvalidQuietHour
	}
	if _, err := loadZone(q.Timezone); err != nil {
		return ErrInvalidQuietHour
	}
	return nil
}

// Contains reports whether now falls inside the window.
func (q QuietHours) Contains(now time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}
	loc, err := loadZone(q.Timezone)
	if err != nil {
		return false
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func loadZone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// NotificationPreferences is the per-user routing configuration.
type NotificationPreferences struct {
	UserID           string                         `json:"user_id"`
	QuietHours       QuietHours                     `json:"quiet_hours"`
	WeekendMode      bool                           `json:"weekend_mode"`
	VacationMode     bool                           `json:"vacation_mode"`
	VacationDelegate *string                        `json:"vacation_delegate_id,omitempty"`
	DigestEnabled    bool                           `json:"digest_enabled"`
	TypeChannels     map[NotificationType][]Channel `json:"type_channels,omitempty"`
	PriorityChannels map[Priority][]Channel         `json:"priority_channels,omitempty"`
	CreatedAt        time.Time                      `json:"created_at"`
	UpdatedAt        time.Time                      `json:"updated_at"`
}

// DefaultPreferences is used for users who never stored preferences.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{UserID: userID}
}

func (p *NotificationPreferences) Validate() error {
	if p.UserID == "" {
		return ErrInvalidUser
	}
	if err := p.QuietHours.Validate(); err != nil {
		return err
	}
	for t, chans := range p.TypeChannels {
		if !t.IsValid() {
			return ErrInvalidType
		}
		for _, c := range chans {
			if !c.IsValid() {
				return ErrInvalidChannel
			}
		}
	}
	for pr, chans := range p.PriorityChannels {
		if !pr.IsValid() {
			return ErrInvalidPriority
		}
		for _, c := range chans {
			if !c.IsValid() {
				return ErrInvalidChannel
			}
		}
	}
	return nil
}

// RouteInput describes the notification being routed.
type RouteInput struct {
	UserID      string
	Type        NotificationType
	Priority    Priority
	HasDeadline bool
	Requested   []Channel
}

// Routing is the outcome of applying preferences to a notification.
type Routing struct {
	UserID     string
	Channels   []Channel
	Deferred   bool
	Redirected bool
	// Degraded is set when the tables resolved to nothing and delivery fell
	// back to in-app only.
	Degraded bool
}

var defaultPriorityChannels = map[Priority][]Channel{
	PriorityLow:      {ChannelInApp},
	PriorityNormal:   {ChannelInApp, ChannelEmail},
	PriorityHigh:     {ChannelInApp, ChannelEmail, ChannelPush},
	PriorityUrgent:   {ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush},
	PriorityCritical: {ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush},
}

// Resolve applies the routing tables, vacation, quiet-hours, weekend and
// digest settings to in at time now.
func (p *NotificationPreferences) Resolve(in RouteInput, now time.Time) Routing {
	out := Routing{UserID: in.UserID}

	var base []Channel
	byType, hasType := p.TypeChannels[in.Type]
	byPriority, hasPriority := p.PriorityChannels[in.Priority]
	switch {
	case hasType && hasPriority:
		base = intersect(byType, byPriority)
	case hasType:
		base = byType
	case hasPriority:
		base = byPriority
	default:
		base = defaultPriorityChannels[in.Priority]
	}
	// A caller may narrow the user's channels, never widen them.
	if len(in.Requested) > 0 {
		base = intersect(base, in.Requested)
	}

	if p.VacationMode && p.VacationDelegate != nil && *p.VacationDelegate != "" &&
		in.Priority.AtLeast(PriorityHigh) {
		out.UserID = *p.VacationDelegate
		out.Redirected = true
	}

	interruptible := !in.Priority.AtLeast(PriorityUrgent)
	if interruptible && (p.QuietHours.Contains(now) || (p.WeekendMode && p.isWeekend(now))) {
		base = without(base, ChannelSMS, ChannelPush)
	}

	if p.DigestEnabled && !in.Priority.AtLeast(PriorityHigh) && !in.HasDeadline &&
		in.Type != TypeDigest && in.Type != TypeEscalation {
		out.Deferred = true
	}

	out.Channels = ordered(base)
	if len(out.Channels) == 0 {
		out.Channels = []Channel{ChannelInApp}
		out.Degraded = true
	}
	return out
}

func (p *NotificationPreferences) isWeekend(now time.Time) bool {
	loc, err := loadZone(p.QuietHours.Timezone)
	if err != nil {
		loc = time.UTC
	}
	switch now.In(loc).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

func intersect(a, b []Channel) []Channel {
	set := make(map[Channel]bool, len(b))
	for _, c := range b {
		set[c] = true
	}
	var out []Channel
	for _, c := range a {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

func without(chans []Channel, drop ...Channel) []Channel {
	var out []Channel
	for _, c := range chans {
		keep := true
		for _, d := range drop {
			if c == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}
	return out
}

// ordered deduplicates chans and returns them in AllChannels order.
func ordered(chans []Channel) []Channel {
	seen := make(map[Channel]bool, len(chans))
	for _, c := range chans {
		if c.IsValid() {
			seen[c] = true
		}
	}
	var out []Channel
	for _, c := range AllChannels {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
