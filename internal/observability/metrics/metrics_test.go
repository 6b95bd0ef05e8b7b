package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric, labels) {
				if c := metric.GetCounter(); c != nil {
					return c.GetValue()
				}
				if g := metric.GetGauge(); g != nil {
					return g.GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range metric.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestDeliveryMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDeliveryMetrics(reg)
	m.ObserveSend("text", "success")
	m.ObserveSend("text", "success")
	m.ObserveFastRetry("button")
	m.SetDeferredDepth(3)
	m.ObserveAbandoned("text", "max_retries")
	m.ObserveSendLatency("text", 0.2)

	if got := gatherCounter(t, reg, "aliado_delivery_send_total", map[string]string{"message_type": "text", "status": "success"}); got != 2 {
		t.Fatalf("send_total = %v, want 2", got)
	}
	if got := gatherCounter(t, reg, "aliado_delivery_deferred_queue_depth", nil); got != 3 {
		t.Fatalf("deferred depth = %v, want 3", got)
	}
	if got := gatherCounter(t, reg, "aliado_delivery_abandoned_total", map[string]string{"reason": "max_retries"}); got != 1 {
		t.Fatalf("abandoned = %v, want 1", got)
	}
}

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveInbound("text", "replied")
	m.ObserveIntent("pricing", "normal")
	m.ObserveHandoff("complaint")
	m.ObserveGeneration("fallback", 15)
	m.SetActiveConversations(4)
	m.ObserveWebhook("default", "accepted")

	if got := gatherCounter(t, reg, "aliado_pipeline_intent_total", map[string]string{"intent": "pricing"}); got != 1 {
		t.Fatalf("intent_total = %v, want 1", got)
	}
	if got := gatherCounter(t, reg, "aliado_pipeline_active_conversations", nil); got != 4 {
		t.Fatalf("active conversations = %v, want 4", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var d *DeliveryMetrics
	d.ObserveSend("text", "failed")
	d.ObserveFastRetry("text")
	d.SetDeferredDepth(1)
	d.ObserveAbandoned("text", "expired")
	d.ObserveSendLatency("text", 0.1)

	var p *PipelineMetrics
	p.ObserveInbound("image", "acknowledged")
	p.ObserveIntent("general", "normal")
	p.ObserveHandoff("human_request")
	p.ObserveGeneration("model", 0.4)
	p.SetActiveConversations(0)
	p.ObserveWebhook("bot", "rejected")
}
