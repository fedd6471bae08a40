package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/notifyhub/alertflow/internal/domain"
	"github.com/notifyhub/alertflow/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Hooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	onSent, onFailed := m.WorkerHooks()
	onSent(domain.ChannelEmail, 20*time.Millisecond)
	onSent(domain.ChannelEmail, 30*time.Millisecond)
	onFailed(domain.ChannelSMS)

	if got := counterValue(t, m.DeliveriesSent.WithLabelValues("email")); got != 2 {
		t.Errorf("deliveries_sent{email} = %v, want 2", got)
	}
	if got := counterValue(t, m.DeliveriesFailed.WithLabelValues("sms")); got != 1 {
		t.Errorf("deliveries_failed{sms} = %v, want 1", got)
	}

	hooks := m.RateLimitHooks()
	hooks.OnDecision("/x", true)
	hooks.OnDecision("/x", false)
	hooks.OnDecision("/x", false)
	hooks.OnStoreError("count")

	if got := counterValue(t, m.RateLimitDecisions.WithLabelValues("/x", "allowed")); got != 2 {
		t.Errorf("allowed = %v, want 2", got)
	}
	if got := counterValue(t, m.RateLimitDecisions.WithLabelValues("/x", "limited")); got != 1 {
		t.Errorf("limited = %v, want 1", got)
	}
	if got := counterValue(t, m.RateLimitStoreErrors.WithLabelValues("count")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}

	m.EscalationHook(domain.OutcomeFailed)
	m.CreatedHook(domain.PriorityCritical)
	if got := counterValue(t, m.Escalations.WithLabelValues("failed")); got != 1 {
		t.Errorf("escalations{failed} = %v, want 1", got)
	}
	if got := counterValue(t, m.NotificationsCreated.WithLabelValues("critical")); got != 1 {
		t.Errorf("created{critical} = %v, want 1", got)
	}
}

func TestMetrics_ObserveQueue(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.ObserveQueue(4, 2, 0)

	for name, tc := range map[string]struct {
		g    prometheus.Gauge
		want float64
	}{
		"high":   {m.QueueDepthHigh, 4},
		"normal": {m.QueueDepthNormal, 2},
		"low":    {m.QueueDepthLow, 0},
	} {
		var out dto.Metric
		if err := tc.g.Write(&out); err != nil {
			t.Fatalf("write %s gauge: %v", name, err)
		}
		if got := out.GetGauge().GetValue(); got != tc.want {
			t.Errorf("queue_depth_%s = %v, want %v", name, got, tc.want)
		}
	}
}
