// Package priority computes notification priority scores and maps them to
// discrete priority bands. Every function here is pure: the same inputs
// always give the same output, so a re-triggered notification re-scores
// identically.
package priority

import (
	"time"

	"github.com/notifyhub/alertflow/internal/domain"
)

// Band thresholds are inclusive lower bounds.
const (
	CriticalThreshold = 90
	UrgentThreshold   = 70
	HighThreshold     = 45
	NormalThreshold   = 20

	MaxScore = 100
)

// Fixed bonuses for flagged events.
const (
	CriticalBonus        = 20
	LegalComplianceBonus = 15
)

// Result is a scored notification priority.
type Result struct {
	Total    int             `json:"total"`
	Priority domain.Priority `json:"priority"`
}

// Score sums the factors, clamps the total to [0,100] and maps it to a band.
func Score(f domain.PriorityScoreFactors) Result {
	total := f.BaseTypeScore + f.DeadlineModifier + f.RoleModifier + f.CriticalFlag + f.LegalCompliance
	if total < 0 {
		total = 0
	}
	if total > MaxScore {
		total = MaxScore
	}
	return Result{Total: total, Priority: Band(total)}
}

// Band maps a score to its priority band.
func Band(total int) domain.Priority {
	switch {
	case total >= CriticalThreshold:
		return domain.PriorityCritical
	case total >= UrgentThreshold:
		return domain.PriorityUrgent
	case total >= HighThreshold:
		return domain.PriorityHigh
	case total >= NormalThreshold:
		return domain.PriorityNormal
	default:
		return domain.PriorityLow
	}
}

var baseTypeScores = map[domain.NotificationType]int{
	domain.TypeDigest:     10,
	domain.TypeUpdate:     20,
	domain.TypeReminder:   30,
	domain.TypeDeadline:   40,
	domain.TypeApproval:   50,
	domain.TypeEscalation: 60,
}

// BaseTypeScore is the intrinsic weight of a notification type.
func BaseTypeScore(t domain.NotificationType) int {
	return baseTypeScores[t]
}

// DeadlineModifier grows as the deadline approaches. Zero without a deadline.
func DeadlineModifier(deadline *time.Time, now time.Time) int {
	if deadline == nil {
		return 0
	}
	left := deadline.Sub(now)
	switch {
	case left <= 0:
		return 30
	case left < 24*time.Hour:
		return 25
	case left < 72*time.Hour:
		return 15
	case left < 7*24*time.Hour:
		return 5
	default:
		return 0
	}
}

// RoleModifier raises compliance-relevant notices for HR and admin
// recipients and approvals for managers.
func RoleModifier(role string, t domain.NotificationType) int {
	switch role {
	case "hr", "admin":
		if t == domain.TypeDeadline || t == domain.TypeEscalation {
			return 10
		}
	case "manager":
		if t == domain.TypeApproval {
			return 5
		}
	}
	return 0
}

// Inputs is what the factor derivation needs to know about a notification.
type Inputs struct {
	Type            domain.NotificationType
	Deadline        *time.Time
	RecipientRole   string
	Critical        bool
	LegalCompliance bool
}

// Factors derives the weighted factors for in at now.
func Factors(in Inputs, now time.Time) domain.PriorityScoreFactors {
	f := domain.PriorityScoreFactors{
		BaseTypeScore:    BaseTypeScore(in.Type),
		DeadlineModifier: DeadlineModifier(in.Deadline, now),
		RoleModifier:     RoleModifier(in.RecipientRole, in.Type),
	}
	if in.Critical {
		f.CriticalFlag = CriticalBonus
	}
	if in.LegalCompliance {
		f.LegalCompliance = LegalComplianceBonus
	}
	return f
}

// Rescore replaces the base type weight of f and scores the result; used
// when an escalation re-types a notification.
func Rescore(f domain.PriorityScoreFactors, t domain.NotificationType) (domain.PriorityScoreFactors, Result) {
	f.BaseTypeScore = BaseTypeScore(t)
	return f, Score(f)
}
