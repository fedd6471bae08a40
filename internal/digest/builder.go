// Package digest folds deferred notifications into one digest notification
// per user.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/priority"
	"github.com/notifyhub/alertflow/internal/repository"
)

// Publisher persists a digest, absorbs its members and enqueues it.
// *service.NotificationService satisfies it.
type Publisher interface {
	PublishDigest(ctx context.Context, digest *domain.Notification, memberIDs []string) error
}

// Report summarises one build.
type Report struct {
	Users    int `json:"users"`
	Digests  int `json:"digests"`
	Absorbed int `json:"absorbed"`
	Errors   int `json:"errors"`
}

type Builder struct {
	repo      repository.NotificationRepository
	pub       Publisher
	batchSize int
	logger    *zap.Logger
	onBuilt   func()
}

func NewBuilder(repo repository.NotificationRepository, pub Publisher, batchSize int, logger *zap.Logger, onBuilt func()) *Builder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Builder{repo: repo, pub: pub, batchSize: batchSize, logger: logger, onBuilt: onBuilt}
}

// Build creates one digest per user with deferred notifications. A failure
// for one user leaves that user's notifications deferred for the next run.
func (b *Builder) Build(ctx context.Context, now time.Time) (Report, error) {
	deferred, err := b.repo.FindDeferred(ctx, b.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("find deferred: %w", err)
	}

	var (
		report Report
		order  []string
		byUser = make(map[string][]*domain.Notification)
	)
	for _, n := range deferred {
		if _, ok := byUser[n.UserID]; !ok {
			order = append(order, n.UserID)
		}
		byUser[n.UserID] = append(byUser[n.UserID], n)
	}
	report.Users = len(order)

	for _, userID := range order {
		members := byUser[userID]
		digest := newDigest(userID, members, now)

		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		if err := b.pub.PublishDigest(ctx, digest, ids); err != nil {
			report.Errors++
			b.logger.Error("digest build failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}

		report.Digests++
		report.Absorbed += len(members)
		if b.onBuilt != nil {
			b.onBuilt()
		}
	}

	if report.Users > 0 {
		b.logger.Info("digests built",
			zap.Int("users", report.Users),
			zap.Int("digests", report.Digests),
			zap.Int("absorbed", report.Absorbed),
			zap.Int("errors", report.Errors),
		)
	}
	return report, nil
}

// Items groups members by type in order of first appearance. Each item
// carries the count and the first deep link seen for its type.
func Items(members []*domain.Notification) []domain.DigestItem {
	var (
		items []domain.DigestItem
		index = make(map[domain.NotificationType]int)
	)
	for _, n := range members {
		i, ok := index[n.Type]
		if !ok {
			one := 0
			items = append(items, domain.DigestItem{Type: n.Type, Title: n.Title, Count: &one})
			i = len(items) - 1
			index[n.Type] = i
		}
		item := &items[i]
		*item.Count++
		if item.DeepLink == nil && n.DeepLink != nil {
			link := *n.DeepLink
			item.DeepLink = &link
		}
	}
	for i := range items {
		if c := *items[i].Count; c > 1 {
			items[i].Title = fmt.Sprintf("%d %s notifications", c, items[i].Type)
		}
	}
	return items
}

func newDigest(userID string, members []*domain.Notification, now time.Time) *domain.Notification {
	items := Items(members)
	factors := domain.PriorityScoreFactors{BaseTypeScore: priority.BaseTypeScore(domain.TypeDigest)}
	score := priority.Score(factors)
	id := uuid.New().String()

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%d %s", *it.Count, it.Type)
	}

	return &domain.Notification{
		ID:              id,
		UserID:          userID,
		Title:           fmt.Sprintf("You have %d new notifications", len(members)),
		Message:         strings.Join(parts, ", "),
		Type:            domain.TypeDigest,
		Priority:        score.Priority,
		PriorityScore:   score.Total,
		PriorityFactors: factors,
		Status:          domain.StatusPending,
		ScheduledFor:    now,
		RootID:          id,
		IsDigest:        true,
		DigestItems:     items,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
