package escalation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/escalation"
	"github.com/notifyhub/alertflow/internal/queue"
	"github.com/notifyhub/alertflow/internal/repository"
	"github.com/notifyhub/alertflow/internal/service"
)

var t0 = time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	engine   *escalation.Engine
	repo     *repository.MockNotificationRepository
	rules    *repository.MockEscalationRepository
	roles    *repository.MockRoleRepository
	clock    *clock
	outcomes []domain.EscalationOutcome
	mu       sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, escalation.Config{Concurrency: 4, BatchSize: 100})
}

func newFixtureWith(t *testing.T, cfg escalation.Config) *fixture {
	t.Helper()
	f := &fixture{
		repo:  repository.NewMockNotificationRepository(),
		rules: repository.NewMockEscalationRepository(),
		roles: repository.NewMockRoleRepository(),
		clock: &clock{t: t0},
	}
	svc := service.NewNotificationService(f.repo, repository.NewMockPreferencesRepository(), f.roles, f.rules,
		queue.New(), zap.NewNop(), service.WithClock(f.clock.Now))
	f.engine = escalation.NewEngine(f.repo, f.rules, f.roles, svc,
		cfg, zap.NewNop(),
		func(o domain.EscalationOutcome) {
			f.mu.Lock()
			f.outcomes = append(f.outcomes, o)
			f.mu.Unlock()
		})
	return f
}

// leaveRule is the chain from scenario C: manager after 1h, hr 24h later.
func (f *fixture) leaveRule(t *testing.T) {
	t.Helper()
	err := f.rules.UpsertRule(context.Background(), &domain.EscalationRule{
		ID:           "rule-leave",
		EntityType:   "leave",
		TriggerEvent: "requested",
		DelayHours:   1,
		Active:       true,
		EscalationChain: []domain.EscalationStep{
			{Role: "manager", AfterHours: 0},
			{Role: "hr", AfterHours: 24},
		},
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func (f *fixture) assign(t *testing.T, role, userID string) {
	t.Helper()
	if err := f.roles.Assign(context.Background(), &domain.RoleAssignment{Role: role, UserID: userID}); err != nil {
		t.Fatalf("assign %s: %v", role, err)
	}
}

func (f *fixture) root(id string) *domain.Notification {
	entity, trigger := "leave", "requested"
	due := t0
	n := &domain.Notification{
		ID:               id,
		UserID:           "u-1",
		Title:            "Leave request pending",
		Message:          "Please review the leave request",
		Type:             domain.TypeApproval,
		Priority:         domain.PriorityHigh,
		PriorityScore:    50,
		PriorityFactors:  domain.PriorityScoreFactors{BaseTypeScore: 50},
		Status:           domain.StatusSent,
		EntityType:       &entity,
		TriggerEvent:     &trigger,
		ScheduledFor:     t0,
		RootID:           id,
		NextEscalationAt: &due,
		CreatedAt:        t0,
		UpdatedAt:        t0,
	}
	f.repo.Put(n)
	return n
}

func (f *fixture) nextCheck(t *testing.T, rootID string) *time.Time {
	t.Helper()
	n, err := f.repo.GetByID(context.Background(), rootID)
	if err != nil {
		t.Fatalf("get %s: %v", rootID, err)
	}
	return n.NextEscalationAt
}

// quoteRule needs a role nobody holds, so every attempt fails.
func (f *fixture) quoteRule(t *testing.T) (entity, trigger string) {
	t.Helper()
	entity, trigger = "quote", "expiring"
	err := f.rules.UpsertRule(context.Background(), &domain.EscalationRule{
		ID: "rule-quote", EntityType: entity, TriggerEvent: trigger, Active: true,
		EscalationChain: []domain.EscalationStep{{Role: "sales_director"}},
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	return entity, trigger
}

func (f *fixture) evaluate(t *testing.T, rootID string, at time.Time) *escalation.Result {
	t.Helper()
	f.clock.Set(at)
	res, err := f.engine.EvaluateLineage(context.Background(), rootID, at)
	if err != nil {
		t.Fatalf("evaluate at %v: %v", at.Sub(t0), err)
	}
	return res
}

func TestEngine_ScenarioC(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	f.assign(t, "manager", "m-1")
	f.assign(t, "hr", "hr-1")
	root := f.root("root-1")

	if res := f.evaluate(t, root.ID, t0.Add(30*time.Minute)); res.Stop != escalation.StopNotDue {
		t.Fatalf("expected not due at T0+30m, got %+v", res)
	}

	res := f.evaluate(t, root.ID, t0.Add(time.Hour))
	if res.Outcome != domain.OutcomeEscalated || res.Escalated == nil {
		t.Fatalf("expected manager step at T0+1h, got %+v", res)
	}
	first := res.Escalated
	if first.EscalationLevel != 1 || first.UserID != "m-1" || !first.IsEscalated {
		t.Fatalf("unexpected first escalation: %+v", first)
	}
	if first.EscalatedFrom == nil || *first.EscalatedFrom != root.ID || first.RootID != root.ID {
		t.Fatalf("expected child of %s, got from=%v root=%s", root.ID, first.EscalatedFrom, first.RootID)
	}
	if first.Type != domain.TypeEscalation || first.PriorityScore != 60 {
		t.Errorf("expected escalation re-scored to 60, got %s %d", first.Type, first.PriorityScore)
	}

	for _, at := range []time.Duration{5 * time.Hour, 24 * time.Hour, 24*time.Hour + 59*time.Minute} {
		if res := f.evaluate(t, root.ID, t0.Add(at)); res.Stop != escalation.StopNotDue {
			t.Fatalf("expected no hr step at T0+%v, got %+v", at, res)
		}
	}

	res = f.evaluate(t, root.ID, t0.Add(25*time.Hour))
	if res.Outcome != domain.OutcomeEscalated {
		t.Fatalf("expected hr step at T0+25h, got %+v", res)
	}
	second := res.Escalated
	if second.EscalationLevel != 2 || second.UserID != "hr-1" || *second.EscalatedFrom != first.ID {
		t.Fatalf("unexpected second escalation: %+v", second)
	}

	if res := f.evaluate(t, root.ID, t0.Add(200*time.Hour)); res.Stop != escalation.StopExhausted {
		t.Fatalf("expected chain exhausted, got %+v", res)
	}

	history, _ := f.rules.ListHistory(context.Background(), root.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].FromUserID != "u-1" || *history[0].ToUserID != "m-1" || history[0].EscalationLevel != 1 {
		t.Errorf("unexpected first history row: %+v", history[0])
	}
	if history[1].FromUserID != "m-1" || *history[1].ToUserID != "hr-1" || history[1].EscalationLevel != 2 {
		t.Errorf("unexpected second history row: %+v", history[1])
	}
}

func TestEngine_LineageLevelInvariant(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	f.assign(t, "manager", "m-1")
	f.assign(t, "hr", "hr-1")
	root := f.root("root-1")

	// Checking late fires one step per evaluation, never skipping.
	for i := 0; i < 5; i++ {
		f.evaluate(t, root.ID, t0.Add(100*time.Hour))
	}

	lineage, _ := f.repo.ListLineage(context.Background(), root.ID)
	if len(lineage) != 3 {
		t.Fatalf("expected root plus one notification per chain step, got %d", len(lineage))
	}
	byID := make(map[string]*domain.Notification, len(lineage))
	for _, n := range lineage {
		byID[n.ID] = n
	}
	for _, n := range lineage {
		if !n.IsEscalated {
			continue
		}
		parent, ok := byID[*n.EscalatedFrom]
		if !ok {
			t.Fatalf("%s: parent %s outside lineage", n.ID, *n.EscalatedFrom)
		}
		if n.EscalationLevel != parent.EscalationLevel+1 {
			t.Errorf("%s: level %d, parent level %d", n.ID, n.EscalationLevel, parent.EscalationLevel)
		}
	}
}

func TestEngine_ActedLineageStops(t *testing.T) {
	tests := []struct {
		name  string
		actOn func(root, child *domain.Notification) *domain.Notification
	}{
		{"act on escalated child", func(_, child *domain.Notification) *domain.Notification { return child }},
		{"act on root", func(root, _ *domain.Notification) *domain.Notification { return root }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.leaveRule(t)
			f.assign(t, "manager", "m-1")
			f.assign(t, "hr", "hr-1")
			root := f.root("root-1")

			res := f.evaluate(t, root.ID, t0.Add(time.Hour))
			if res.Escalated == nil {
				t.Fatalf("expected first escalation, got %+v", res)
			}

			target := tt.actOn(root, res.Escalated)
			current, _ := f.repo.GetByID(context.Background(), target.ID)
			if err := f.repo.Transition(context.Background(), target.ID, current.Status, domain.StatusActed, t0.Add(2*time.Hour)); err != nil {
				t.Fatalf("act: %v", err)
			}

			if res := f.evaluate(t, root.ID, t0.Add(48*time.Hour)); res.Stop != escalation.StopActed {
				t.Fatalf("expected acted stop, got %+v", res)
			}
			lineage, _ := f.repo.ListLineage(context.Background(), root.ID)
			if len(lineage) != 2 {
				t.Fatalf("expected no second escalation, lineage has %d members", len(lineage))
			}
		})
	}
}

func TestEngine_ResolutionFailureRecordedOnce(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	root := f.root("root-1")

	res := f.evaluate(t, root.ID, t0.Add(2*time.Hour))
	if res.Outcome != domain.OutcomeFailed || res.Reason == "" {
		t.Fatalf("expected failed outcome with a reason, got %+v", res)
	}
	res = f.evaluate(t, root.ID, t0.Add(3*time.Hour))
	if res.Stop != escalation.StopRecorded {
		t.Fatalf("expected repeated failure to be silent, got %+v", res)
	}

	history, _ := f.rules.ListHistory(context.Background(), root.ID)
	if len(history) != 1 || history[0].Outcome != domain.OutcomeFailed || history[0].ToUserID != nil {
		t.Fatalf("expected one failed history row, got %+v", history)
	}
	lineage, _ := f.repo.ListLineage(context.Background(), root.ID)
	if len(lineage) != 1 {
		t.Fatalf("a failed attempt must not create a notification, lineage has %d", len(lineage))
	}
	if len(f.outcomes) != 1 || f.outcomes[0] != domain.OutcomeFailed {
		t.Errorf("expected one failed outcome observed, got %v", f.outcomes)
	}

	// Once the role is assigned the same step succeeds.
	f.assign(t, "manager", "m-1")
	if res := f.evaluate(t, root.ID, t0.Add(4*time.Hour)); res.Outcome != domain.OutcomeEscalated {
		t.Fatalf("expected escalation after assignment, got %+v", res)
	}
}

func TestEngine_MissingRuleFails(t *testing.T) {
	f := newFixture(t)
	root := f.root("root-1")

	res := f.evaluate(t, root.ID, t0.Add(2*time.Hour))
	if res.Outcome != domain.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %+v", res)
	}
	history, _ := f.rules.ListHistory(context.Background(), root.ID)
	if len(history) != 1 || history[0].RuleID != nil {
		t.Fatalf("expected one failed row without a rule id, got %+v", history)
	}
}

func TestEngine_StopConditions(t *testing.T) {
	expired := t0.Add(30 * time.Minute)

	tests := []struct {
		name   string
		mutate func(*domain.Notification)
		want   string
	}{
		{"expired root", func(n *domain.Notification) { n.ExpiresAt = &expired }, escalation.StopExpired},
		{"unbound root", func(n *domain.Notification) { n.EntityType = nil }, escalation.StopUnbound},
		{"failed leaf", func(n *domain.Notification) { n.Status = domain.StatusFailed }, escalation.StopFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.leaveRule(t)
			f.assign(t, "manager", "m-1")
			root := f.root("root-1")
			tt.mutate(root)
			f.repo.Put(root)

			if res := f.evaluate(t, root.ID, t0.Add(2*time.Hour)); res.Stop != tt.want {
				t.Fatalf("expected %s, got %+v", tt.want, res)
			}
		})
	}
}

func TestEngine_UnknownLineage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.EvaluateLineage(context.Background(), "missing", t0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_Sweep(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	f.assign(t, "manager", "m-1")
	for _, id := range []string{"root-1", "root-2", "root-3"} {
		f.root(id)
	}

	entity, trigger := f.quoteRule(t)
	orphan := f.root("root-4")
	orphan.EntityType, orphan.TriggerEvent = &entity, &trigger
	f.repo.Put(orphan)

	at := t0.Add(2 * time.Hour)
	f.clock.Set(at)
	report, err := f.engine.Sweep(context.Background(), at)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Evaluated != 4 || report.Escalated != 3 || report.Failed != 1 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	// A second sweep at the same instant finds nothing new to do.
	report, err = f.engine.Sweep(context.Background(), at)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if report.Escalated != 0 || report.Failed != 0 {
		t.Fatalf("expected idempotent second sweep, got %+v", report)
	}
}

func TestEngine_SchedulesNextCheck(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	f.assign(t, "manager", "m-1")
	f.assign(t, "hr", "hr-1")
	root := f.root("root-1")

	steps := []struct {
		name string
		at   time.Duration
		want *time.Duration
	}{
		{"before the first step", 30 * time.Minute, durationPtr(time.Hour)},
		{"manager step fires", time.Hour, durationPtr(25 * time.Hour)},
		{"hr step fires", 25 * time.Hour, nil},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			f.evaluate(t, root.ID, t0.Add(st.at))
			got := f.nextCheck(t, root.ID)
			switch {
			case st.want == nil && got != nil:
				t.Fatalf("expected lineage retired, next check at %v", got.Sub(t0))
			case st.want != nil && (got == nil || !got.Equal(t0.Add(*st.want))):
				t.Fatalf("expected next check at T0+%v, got %v", *st.want, got)
			}
		})
	}
}

func TestEngine_FailedStepRetriesLater(t *testing.T) {
	f := newFixtureWith(t, escalation.Config{FailureRetry: 30 * time.Minute})
	f.leaveRule(t)
	root := f.root("root-1")

	at := t0.Add(2 * time.Hour)
	f.evaluate(t, root.ID, at)
	if got := f.nextCheck(t, root.ID); got == nil || !got.Equal(at.Add(30*time.Minute)) {
		t.Fatalf("expected retry at +30m, got %v", got)
	}
}

func TestEngine_SweepSkipsFinishedLineages(t *testing.T) {
	f := newFixtureWith(t, escalation.Config{Concurrency: 1, BatchSize: 1})
	f.leaveRule(t)
	f.assign(t, "manager", "m-1")
	f.assign(t, "hr", "hr-1")

	// The oldest lineage has used up its whole chain.
	done := f.root("root-done")
	f.evaluate(t, done.ID, t0.Add(time.Hour))
	f.evaluate(t, done.ID, t0.Add(25*time.Hour))
	f.evaluate(t, done.ID, t0.Add(50*time.Hour))

	// A failed leaf can never escalate again.
	dead := f.root("root-dead")
	dead.Status = domain.StatusFailed
	f.repo.Put(dead)
	f.evaluate(t, dead.ID, t0.Add(50*time.Hour))

	// This one keeps failing to resolve its role.
	entity, trigger := f.quoteRule(t)
	stuck := f.root("root-stuck")
	stuck.EntityType, stuck.TriggerEvent = &entity, &trigger
	f.repo.Put(stuck)

	created := t0.Add(100 * time.Hour)
	fresh := f.root("root-fresh")
	fresh.CreatedAt, fresh.ScheduledFor, fresh.NextEscalationAt = created, created, &created
	f.repo.Put(fresh)

	at := created.Add(time.Hour)
	f.clock.Set(at)
	want := []escalation.Report{
		{Evaluated: 1, Failed: 1},
		{Evaluated: 1, Escalated: 1},
		{},
	}
	for i, w := range want {
		report, err := f.engine.Sweep(context.Background(), at)
		if err != nil {
			t.Fatalf("sweep %d: %v", i+1, err)
		}
		if report != w {
			t.Fatalf("sweep %d: got %+v, want %+v", i+1, report, w)
		}
	}

	lineage, _ := f.repo.ListLineage(context.Background(), fresh.ID)
	if len(lineage) != 2 {
		t.Fatalf("expected the fresh lineage to escalate, it has %d members", len(lineage))
	}
	for _, id := range []string{done.ID, dead.ID} {
		if next := f.nextCheck(t, id); next != nil {
			t.Errorf("%s: expected retired lineage, next check at %v", id, next.Sub(t0))
		}
	}
}

func TestEngine_RedirectedRootKeepsAddressee(t *testing.T) {
	f := newFixture(t)
	f.leaveRule(t)
	addressee, delegate := "u-1", "u-cover"
	if err := f.roles.Assign(context.Background(), &domain.RoleAssignment{Role: "manager", UserID: "m-1", SubjectUserID: &addressee}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := f.roles.Assign(context.Background(), &domain.RoleAssignment{Role: "manager", UserID: "m-cover", SubjectUserID: &delegate}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	root := f.root("root-1")
	root.UserID = delegate
	root.Metadata = map[string]any{"original_user_id": addressee}
	f.repo.Put(root)

	res := f.evaluate(t, root.ID, t0.Add(time.Hour))
	if res.Escalated == nil {
		t.Fatalf("expected an escalation, got %+v", res)
	}
	child := res.Escalated
	if child.UserID != "m-1" {
		t.Fatalf("expected the addressee's manager, got %s", child.UserID)
	}
	if got := child.Metadata["original_user_id"]; got != addressee {
		t.Errorf("original_user_id = %v, want %s", got, addressee)
	}
	if !strings.HasPrefix(child.Message, "No response yet from "+addressee+".") {
		t.Errorf("unexpected message %q", child.Message)
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
