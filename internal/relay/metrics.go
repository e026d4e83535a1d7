package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	active       prometheus.Gauge
	connections  prometheus.Counter
	closes       *prometheus.CounterVec
	broadcasts   prometheus.Counter
	deliveries   prometheus.Counter
	sendFailures prometheus.Counter
	frames       prometheus.Counter
}

// NewMetrics creates the relay collectors and registers them with reg when
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "active_connections",
			Help:      "WebSocket connections currently registered.",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "connections_total",
			Help:      "WebSocket connections registered since start.",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "closes_total",
			Help:      "WebSocket sessions ended, by close kind.",
		}, []string{"kind"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "broadcasts_total",
			Help:      "Broadcast calls that found a conversation group.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Payloads queued to connections by broadcasts.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "send_failures_total",
			Help:      "Broadcast sends that failed and evicted a connection.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "translator",
			Subsystem: "relay",
			Name:      "frames_received_total",
			Help:      "Inbound frames read from clients.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.active, m.connections, m.closes, m.broadcasts, m.deliveries, m.sendFailures, m.frames)
	}
	return m
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) broadcastDone(delivered, failed int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	m.deliveries.Add(float64(delivered))
	m.sendFailures.Add(float64(failed))
}

// SessionEnded records how a session finished.
func (m *Metrics) SessionEnded(kind CloseKind) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(kind.String()).Inc()
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.frames.Inc()
}
