package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "datalink"

// Metrics holds the Prometheus collectors for the link. All methods are
// safe on a nil *Metrics so tests and embedders can skip instrumentation.
type Metrics struct {
	linkState         prometheus.Gauge
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	reconnects        prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	authFailures      *prometheus.CounterVec
	statsSent         prometheus.Counter
}

// NewMetrics registers the link collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		linkState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Current link state (0 idle, 1 connecting, 2 authenticating, 3 active, 4 closing, 5 stopped)",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames decoded from the control server",
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written to the control server",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts after a transient failure",
		}),
		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_timeouts_total",
			Help:      "Total number of sessions dropped for inbound silence",
		}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of failed authentication attempts by status code",
		}, []string{"code"}),
		statsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_sent_total",
			Help:      "Total number of STATS frames sent",
		}),
	}
}

// SetLinkState records the numeric link state.
func (m *Metrics) SetLinkState(state int) {
	if m == nil {
		return
	}
	m.linkState.Set(float64(state))
}

// FrameReceived counts one decoded frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// FrameSent counts one written frame.
func (m *Metrics) FrameSent() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// Reconnect counts one reconnect attempt.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// HeartbeatTimeout counts one staleness detection.
func (m *Metrics) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

// AuthFailure counts a failed handshake. code is "timeout" or "transient"
// when no status code was received.
func (m *Metrics) AuthFailure(code string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(code).Inc()
}

// StatsSent counts one STATS frame.
func (m *Metrics) StatsSent() {
	if m == nil {
		return
	}
	m.statsSent.Inc()
}
