package metrics

import "github.com/prometheus/client_golang/prometheus"

// DeliveryMetrics exposes counters/gauges for outbound WhatsApp delivery.
type DeliveryMetrics struct {
	sendTotal      *prometheus.CounterVec
	fastRetries    *prometheus.CounterVec
	deferredDepth  prometheus.Gauge
	abandonedTotal *prometheus.CounterVec
	sendLatency    *prometheus.HistogramVec
}

func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "delivery",
			Name:      "send_total",
			Help:      "Outbound WhatsApp sends by message type and final status",
		}, []string{"message_type", "status"}),
		fastRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "delivery",
			Name:      "fast_retries_total",
			Help:      "In-process retries after a retryable Graph API failure",
		}, []string{"message_type"}),
		deferredDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aliado",
			Subsystem: "delivery",
			Name:      "deferred_queue_depth",
			Help:      "Messages waiting in the deferred retry queue",
		}),
		abandonedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "delivery",
			Name:      "abandoned_total",
			Help:      "Deferred messages dropped after exhausting retries or expiring",
		}, []string{"message_type", "reason"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aliado",
			Subsystem: "delivery",
			Name:      "send_latency_seconds",
			Help:      "Latency of a single Graph API send attempt",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendTotal, m.fastRetries, m.deferredDepth, m.abandonedTotal, m.sendLatency)
	return m
}

func (m *DeliveryMetrics) ObserveSend(messageType, status string) {
	if m == nil {
		return
	}
	m.sendTotal.WithLabelValues(messageType, status).Inc()
}

func (m *DeliveryMetrics) ObserveFastRetry(messageType string) {
	if m == nil {
		return
	}
	m.fastRetries.WithLabelValues(messageType).Inc()
}

func (m *DeliveryMetrics) SetDeferredDepth(n int) {
	if m == nil {
		return
	}
	m.deferredDepth.Set(float64(n))
}

func (m *DeliveryMetrics) ObserveAbandoned(messageType, reason string) {
	if m == nil {
		return
	}
	m.abandonedTotal.WithLabelValues(messageType, reason).Inc()
}

func (m *DeliveryMetrics) ObserveSendLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.sendLatency.WithLabelValues(messageType).Observe(seconds)
}

// PipelineMetrics covers inbound processing, intent routing and AI generation.
type PipelineMetrics struct {
	inboundTotal  *prometheus.CounterVec
	intentTotal   *prometheus.CounterVec
	handoffTotal  *prometheus.CounterVec
	aiLatency     *prometheus.HistogramVec
	activeChats   prometheus.Gauge
	webhookEvents *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "inbound_total",
			Help:      "Inbound WhatsApp messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		intentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "intent_total",
			Help:      "Classified intents by type and priority",
		}, []string{"intent", "priority"}),
		handoffTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "handoff_total",
			Help:      "Conversations handed off to a human",
		}, []string{"intent"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "ai_generation_seconds",
			Help:      "Latency of reply generation by source",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"source"}),
		activeChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "active_conversations",
			Help:      "Conversations currently held in memory",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aliado",
			Subsystem: "pipeline",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by route and status",
		}, []string{"route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.intentTotal, m.handoffTotal, m.aiLatency, m.activeChats, m.webhookEvents)
	return m
}

func (m *PipelineMetrics) ObserveInbound(kind, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) ObserveIntent(intent, priority string) {
	if m == nil {
		return
	}
	m.intentTotal.WithLabelValues(intent, priority).Inc()
}

func (m *PipelineMetrics) ObserveHandoff(intent string) {
	if m == nil {
		return
	}
	m.handoffTotal.WithLabelValues(intent).Inc()
}

func (m *PipelineMetrics) ObserveGeneration(source string, seconds float64) {
	if m == nil {
		return
	}
	m.aiLatency.WithLabelValues(source).Observe(seconds)
}

func (m *PipelineMetrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.activeChats.Set(float64(n))
}

func (m *PipelineMetrics) ObserveWebhook(route, status string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(route, status).Inc()
}
