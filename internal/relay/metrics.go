package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	ActiveConnections *prometheus.GaugeVec
	FramesTotal       *prometheus.CounterVec
	DroppedFrames     prometheus.Counter
}

// NewMetrics builds and registers the collectors. reg may be a dedicated
// registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Currently open websocket connections per channel.",
		}, []string{"channel"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Frames processed, by channel and direction.",
		}, []string{"channel", "direction"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_dropped_frames_total",
			Help: "Frames dropped because a client send buffer was full.",
		}),
	}
	reg.MustRegister(m.ActiveConnections, m.FramesTotal, m.DroppedFrames)
	return m
}
