package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordPushDelivery_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPushDelivery(PushDelivered)
	c.RecordPushDelivery(PushDelivered)
	c.RecordPushDelivery(PushNoSubscriber)

	delivered := findMetric(t, reg, "domainbroker_push_deliveries_total", map[string]string{"outcome": PushDelivered})
	if got := delivered.GetCounter().GetValue(); got != 2 {
		t.Errorf("delivered = %v, want 2", got)
	}
	missing := findMetric(t, reg, "domainbroker_push_deliveries_total", map[string]string{"outcome": PushNoSubscriber})
	if got := missing.GetCounter().GetValue(); got != 1 {
		t.Errorf("no_subscriber = %v, want 1", got)
	}
}

func TestRecordDecision_CountsByActionAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordDecision("approve", "applied")
	c.RecordDecision("approve", "already_decided")

	m := findMetric(t, reg, "domainbroker_ticket_decisions_total", map[string]string{"action": "approve", "outcome": "applied"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("approve/applied = %v, want 1", got)
	}
}

func TestRecordTicketSubmitted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTicketSubmitted()
	c.RecordTicketSubmitted()

	if got := findMetric(t, reg, "domainbroker_tickets_submitted_total", nil).GetCounter().GetValue(); got != 2 {
		t.Errorf("tickets_submitted = %v, want 2", got)
	}
}

func TestQueueGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetQueueDepth(7)
	c.SetTasksInFlight(3)

	if got := findMetric(t, reg, "domainbroker_queue_depth", nil).GetGauge().GetValue(); got != 7 {
		t.Errorf("queue_depth = %v, want 7", got)
	}
	if got := findMetric(t, reg, "domainbroker_tasks_in_flight", nil).GetGauge().GetValue(); got != 3 {
		t.Errorf("tasks_in_flight = %v, want 3", got)
	}
}

func TestRecordUpstreamLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordUpstreamLatency("cloudflare", 150*time.Millisecond)

	m := findMetric(t, reg, "domainbroker_upstream_latency_seconds", map[string]string{"service": "cloudflare"})
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestRecordTaskResult_LabelsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTaskResult("ticket.decide", false)

	m := findMetric(t, reg, "domainbroker_background_tasks_total", map[string]string{"task": "ticket.decide", "result": "error"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestOrNop(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("OrNop(nil) should return Nop")
	}
	c := NewCollector(prometheus.NewRegistry())
	if OrNop(c) != MetricsCollector(c) {
		t.Error("OrNop should return the given collector")
	}
}
