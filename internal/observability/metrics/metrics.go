package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChatMetrics exposes counters/histograms for the booking conversation flow.
type ChatMetrics struct {
	turnsTotal     *prometheus.CounterVec
	fallbackTotal  *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	bookingsTotal  *prometheus.CounterVec
	turnLatency    *prometheus.HistogramVec
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mednotes",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total booking chat turns served",
		}, []string{"model", "status"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mednotes",
			Subsystem: "chat",
			Name:      "fallback_total",
			Help:      "Total turns where the fallback model took over",
		}, []string{"reason"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mednotes",
			Subsystem: "chat",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations issued by the model",
		}, []string{"tool", "outcome"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mednotes",
			Subsystem: "bookings",
			Name:      "created_total",
			Help:      "Total appointments created through the chat flow",
		}, []string{"status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mednotes",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a full chat turn including tool calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.fallbackTotal, m.toolCallsTotal, m.bookingsTotal, m.turnLatency)
	return m
}

func (m *ChatMetrics) ObserveTurn(model, status string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(model, status).Inc()
}

func (m *ChatMetrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(reason).Inc()
}

func (m *ChatMetrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

func (m *ChatMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

func (m *ChatMetrics) ObserveTurnLatency(model string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(model).Observe(seconds)
}
