package relay

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks relay connection and routing statistics.
type Metrics struct {
	mu sync.Mutex

	connections   prometheus.Gauge
	framesRouted  *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	renames       prometheus.Counter

	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates relay collectors. A nil registerer uses the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer: registerer,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protobus",
			Subsystem: "relay",
			Name:      "connections",
			Help:      "Number of named clients currently connected to the relay",
		}),
		framesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protobus",
			Subsystem: "relay",
			Name:      "frames_routed_total",
			Help:      "Frames forwarded to a connected client",
		}, []string{"to"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protobus",
			Subsystem: "relay",
			Name:      "frames_dropped_total",
			Help:      "Frames that could not be forwarded",
		}, []string{"reason"}),
		renames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "protobus",
			Subsystem: "relay",
			Name:      "name_collisions_total",
			Help:      "Handshakes admitted under a suffixed name because the name was taken",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.connections, m.framesRouted, m.framesDropped, m.renames} {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *Metrics) connected()            { m.connections.Inc() }
func (m *Metrics) disconnected()         { m.connections.Dec() }
func (m *Metrics) renamed()              { m.renames.Inc() }
func (m *Metrics) routed(to string)      { m.framesRouted.WithLabelValues(to).Inc() }
func (m *Metrics) dropped(reason string) { m.framesDropped.WithLabelValues(reason).Inc() }
