package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/repository"
	"github.com/notifyhub/alertflow/internal/service"
)

// Wednesday, so weekend mode never kicks in by accident.
var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *service.NotificationService
	repo    *repository.MockNotificationRepository
	prefs   *repository.MockPreferencesRepository
	roles   *repository.MockRoleRepository
	history *repository.MockEscalationRepository
	q       *queue.PriorityQueue
	created []domain.Priority
}

func newFixture() *fixture {
	f := &fixture{
		repo:    repository.NewMockNotificationRepository(),
		prefs:   repository.NewMockPreferencesRepository(),
		roles:   repository.NewMockRoleRepository(),
		history: repository.NewMockEscalationRepository(),
		q:       queue.New(),
	}
	f.svc = service.NewNotificationService(f.repo, f.prefs, f.roles, f.history, f.q, zap.NewNop(),
		service.WithClock(func() time.Time { return testNow }),
		service.WithCreatedHook(func(p domain.Priority) { f.created = append(f.created, p) }),
	)
	return f
}

func (f *fixture) queued() int {
	high, normal, low := f.q.Depths()
	return high + normal + low
}

var validReq = domain.CreateNotificationRequest{
	UserID:  "u-1",
	Title:   "Leave request",
	Message: "Alex requested three days off",
	Type:    domain.TypeApproval,
}

func TestNotificationService_Create(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, isDuplicate, err := f.svc.Create(ctx, validReq, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isDuplicate {
		t.Fatal("expected isDuplicate=false for a new notification")
	}
	if n.ID == "" || n.RootID != n.ID {
		t.Fatalf("expected root id to equal id, got %q / %q", n.ID, n.RootID)
	}
	if n.Status != domain.StatusPending {
		t.Fatalf("expected status=pending, got %s", n.Status)
	}
	if n.PriorityScore != 50 || n.Priority != domain.PriorityHigh {
		t.Fatalf("expected score 50 (high), got %d (%s)", n.PriorityScore, n.Priority)
	}
	wantChannels := []domain.Channel{domain.ChannelInApp, domain.ChannelEmail, domain.ChannelPush}
	if len(n.Channels) != len(wantChannels) {
		t.Fatalf("expected channels %v, got %v", wantChannels, n.Channels)
	}

	deliveries, err := f.repo.ListDeliveries(ctx, n.ID)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(deliveries) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(deliveries))
	}
	for _, d := range deliveries {
		if d.Status != domain.DeliveryQueued {
			t.Errorf("delivery %s: expected queued, got %s", d.Channel, d.Status)
		}
		if d.MaxAttempts != 3 || d.Priority != domain.PriorityHigh {
			t.Errorf("delivery %s: unexpected budget or priority: %+v", d.Channel, d)
		}
	}
	if got := f.queued(); got != 3 {
		t.Fatalf("expected 3 queued items, got %d", got)
	}
	if len(f.created) != 1 || f.created[0] != domain.PriorityHigh {
		t.Errorf("created hook not called as expected: %v", f.created)
	}
}

func TestNotificationService_Create_Scoring(t *testing.T) {
	overdue := testNow.Add(-time.Hour)

	tests := []struct {
		name      string
		role      string
		mutate    func(*domain.CreateNotificationRequest)
		wantScore int
		wantBand  domain.Priority
	}{
		{"plain update", "", func(r *domain.CreateNotificationRequest) { r.Type = domain.TypeUpdate }, 20, domain.PriorityNormal},
		{"manager approval", "manager", func(r *domain.CreateNotificationRequest) {}, 55, domain.PriorityHigh},
		{"critical overdue deadline", "", func(r *domain.CreateNotificationRequest) {
			r.Type = domain.TypeDeadline
			r.Deadline = &overdue
			r.Critical = true
		}, 90, domain.PriorityCritical},
		{"clamped at 100", "hr", func(r *domain.CreateNotificationRequest) {
			r.Type = domain.TypeDeadline
			r.Deadline = &overdue
			r.Critical = true
			r.LegalCompliance = true
		}, 100, domain.PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.role != "" {
				_ = f.roles.Assign(context.Background(), &domain.RoleAssignment{Role: tt.role, UserID: validReq.UserID})
			}
			req := validReq
			tt.mutate(&req)

			n, _, err := f.svc.Create(context.Background(), req, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if n.PriorityScore != tt.wantScore || n.Priority != tt.wantBand {
				t.Errorf("expected %d (%s), got %d (%s)", tt.wantScore, tt.wantBand, n.PriorityScore, n.Priority)
			}
		})
	}
}

func TestNotificationService_Create_InvalidRequest(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.CreateNotificationRequest)
		wantErr error
	}{
		{"missing user", func(r *domain.CreateNotificationRequest) { r.UserID = "" }, domain.ErrInvalidUser},
		{"unknown type", func(r *domain.CreateNotificationRequest) { r.Type = "memo" }, domain.ErrInvalidType},
		{"unknown channel", func(r *domain.CreateNotificationRequest) { r.Channels = []domain.Channel{"fax"} }, domain.ErrInvalidChannel},
		{"empty message", func(r *domain.CreateNotificationRequest) { r.Message = "" }, domain.ErrInvalidContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := validReq
			tt.mutate(&req)
			if _, _, err := f.svc.Create(context.Background(), req, ""); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if f.queued() != 0 {
				t.Fatal("nothing should be enqueued for an invalid request")
			}
		})
	}
}

func TestNotificationService_Create_IdempotencyReturnsDuplicate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	key := "idem-key-123"
	first, isDup, err := f.svc.Create(ctx, validReq, key)
	if err != nil || isDup {
		t.Fatalf("first call: err=%v isDup=%v", err, isDup)
	}

	second, isDup, err := f.svc.Create(ctx, validReq, key)
	if err != nil {
		t.Fatalf("second call: unexpected error: %v", err)
	}
	if !isDup {
		t.Fatal("expected isDuplicate=true for repeated idempotency key")
	}
	if first.ID != second.ID {
		t.Fatalf("expected same ID, got %s and %s", first.ID, second.ID)
	}
	if _, total, _ := f.repo.List(ctx, domain.ListFilter{Page: 1, Limit: 20}); total != 1 {
		t.Fatalf("expected one stored notification, got %d", total)
	}
}

func TestNotificationService_Create_PersistenceErrorSurfaces(t *testing.T) {
	f := newFixture()
	f.repo.CreateErr = errors.New("connection reset")

	if _, _, err := f.svc.Create(context.Background(), validReq, ""); err == nil {
		t.Fatal("expected persistence error to be returned")
	}
	if f.queued() != 0 {
		t.Fatal("nothing should be enqueued when persistence fails")
	}
}

func TestNotificationService_Create_ScheduledInFuture(t *testing.T) {
	f := newFixture()
	later := testNow.Add(2 * time.Hour)
	req := validReq
	req.ScheduledFor = &later

	n, _, err := f.svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.queued() != 0 {
		t.Fatal("a future notification must not be enqueued yet")
	}
	deliveries, _ := f.repo.ListDeliveries(context.Background(), n.ID)
	for _, d := range deliveries {
		if d.Status != domain.DeliveryScheduled || d.NextAttemptAt == nil || !d.NextAttemptAt.Equal(later) {
			t.Errorf("delivery %s: expected scheduled at %v, got %+v", d.Channel, later, d)
		}
	}
}

func TestNotificationService_Create_DeferredToDigest(t *testing.T) {
	f := newFixture()
	_ = f.prefs.Upsert(context.Background(), &domain.NotificationPreferences{UserID: "u-1", DigestEnabled: true})

	req := validReq
	req.Type = domain.TypeUpdate

	n, _, err := f.svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !n.Deferred {
		t.Fatal("expected a low-stakes update to be deferred for the digest")
	}
	deliveries, _ := f.repo.ListDeliveries(context.Background(), n.ID)
	if len(deliveries) != 0 || f.queued() != 0 {
		t.Fatalf("deferred notifications get no deliveries, got %d", len(deliveries))
	}
}

func TestNotificationService_Create_VacationRedirect(t *testing.T) {
	f := newFixture()
	delegate := "u-2"
	_ = f.prefs.Upsert(context.Background(), &domain.NotificationPreferences{
		UserID:           "u-1",
		VacationMode:     true,
		VacationDelegate: &delegate,
	})

	n, _, err := f.svc.Create(context.Background(), validReq, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.UserID != delegate {
		t.Fatalf("expected redirect to %s, got %s", delegate, n.UserID)
	}
	if n.Metadata["original_user_id"] != "u-1" {
		t.Errorf("expected original recipient in metadata, got %v", n.Metadata)
	}
}

func TestNotificationService_StatusTransitions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, _, err := f.svc.Create(ctx, validReq, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	read, err := f.svc.MarkRead(ctx, n.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if read.Status != domain.StatusRead || read.ReadAt == nil {
		t.Fatalf("expected read with timestamp, got %+v", read)
	}

	if _, err := f.svc.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("marking read twice should be a no-op, got %v", err)
	}

	acted, err := f.svc.MarkActed(ctx, n.ID)
	if err != nil {
		t.Fatalf("mark acted: %v", err)
	}
	if acted.Status != domain.StatusActed {
		t.Fatalf("expected acted, got %s", acted.Status)
	}

	if _, err := f.svc.MarkRead(ctx, n.ID); !errors.Is(err, domain.ErrIllegalStatus) {
		t.Fatalf("expected ErrIllegalStatus moving backwards, got %v", err)
	}
	if _, err := f.svc.MarkActed(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotificationService_Lineage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	root, _, err := f.svc.Create(ctx, validReq, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rootID := root.ID
	child := &domain.Notification{
		ID:              "child-1",
		UserID:          "mgr-1",
		Type:            domain.TypeEscalation,
		Status:          domain.StatusPending,
		RootID:          rootID,
		IsEscalated:     true,
		EscalatedFrom:   &rootID,
		EscalationLevel: 1,
		CreatedAt:       testNow,
	}
	f.repo.Put(child)
	_ = f.history.RecordHistory(ctx, &domain.EscalationHistory{
		ID: "h-1", RootID: rootID, NotificationID: rootID, EscalationLevel: 1, Outcome: domain.OutcomeEscalated,
	})

	lineage, err := f.svc.Lineage(ctx, child.ID)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if lineage.RootID != rootID {
		t.Errorf("expected root %s, got %s", rootID, lineage.RootID)
	}
	if len(lineage.Notifications) != 2 || len(lineage.History) != 1 {
		t.Fatalf("expected 2 members and 1 history row, got %d and %d",
			len(lineage.Notifications), len(lineage.History))
	}
}

func TestNotificationService_Preferences(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, err := f.svc.GetPreferences(ctx, "u-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "u-9" || p.DigestEnabled || p.VacationMode {
		t.Fatalf("expected defaults, got %+v", p)
	}

	bad := &domain.NotificationPreferences{
		UserID:     "u-9",
		QuietHours: domain.QuietHours{Enabled: true, Start: "25:00", End: "07:00"},
	}
	if _, err := f.svc.UpdatePreferences(ctx, bad); !errors.Is(err, domain.ErrInvalidQuietHour) {
		t.Fatalf("expected ErrInvalidQuietHour, got %v", err)
	}

	good := &domain.NotificationPreferences{UserID: "u-9", DigestEnabled: true}
	saved, err := f.svc.UpdatePreferences(ctx, good)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.UpdatedAt != testNow {
		t.Errorf("expected updated_at stamped, got %v", saved.UpdatedAt)
	}
	if p, _ := f.svc.GetPreferences(ctx, "u-9"); !p.DigestEnabled {
		t.Fatal("expected stored preferences to be returned")
	}
}
