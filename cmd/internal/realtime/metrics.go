package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the realtime subsystem's Prometheus collectors.
// A nil *Metrics is valid and records nothing, so tests can skip it.
type Metrics struct {
	MessagesDispatched   prometheus.Counter
	DuplicatesSuppressed prometheus.Counter
	DeliveriesDropped    prometheus.Counter
	OnlineUsers          prometheus.Gauge
	OpenSessions         prometheus.Gauge
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "messages_dispatched_total",
			Help:      "Messages fanned out to live subscribers.",
		}),
		DuplicatesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "duplicates_suppressed_total",
			Help:      "Dispatches suppressed by the reconciliation cache.",
		}),
		DeliveriesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "deliveries_dropped_total",
			Help:      "Per-subscriber deliveries dropped on backpressure.",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "online_users",
			Help:      "Users currently present.",
		}),
		OpenSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "realtime",
			Name:      "open_sessions",
			Help:      "Open websocket sessions.",
		}),
	}
}

func (m *Metrics) incDispatched() {
	if m != nil {
		m.MessagesDispatched.Inc()
	}
}

func (m *Metrics) incSuppressed() {
	if m != nil {
		m.DuplicatesSuppressed.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.DeliveriesDropped.Inc()
	}
}
