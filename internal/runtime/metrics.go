package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call modes and outcomes used as metric labels.
const (
	callModeSend     = "send"
	callModeNative   = "native"
	callModeManual   = "correlated"
	outcomeOK        = "ok"
	outcomeFailure   = "failure"
	outcomeTimeout   = "timeout"
	outcomeError     = "error"
	outcomeUnknown   = "unknown_event"
	outcomeUnbound   = "binding_error"
	outcomeMalformed = "malformed"
)

// BusMetrics tracks outbound calls, inbound dispatches and the pending table.
// A nil *BusMetrics records nothing.
type BusMetrics struct {
	mu sync.Mutex

	callsTotal       *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	pendingRequests  prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// NewBusMetrics creates the collectors. Call Register to expose them.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BusMetrics{
		registerer: registerer,
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protobus",
			Name:      "calls_total",
			Help:      "Outbound calls by target, mode and outcome",
		}, []string{"target", "mode", "outcome"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protobus",
			Name:      "dispatch_total",
			Help:      "Inbound envelopes by event and outcome",
		}, []string{"event", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "protobus",
			Name:      "dispatch_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protobus",
			Name:      "pending_requests",
			Help:      "Calls waiting for a correlated reply",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BusMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.callsTotal,
		m.dispatchTotal,
		m.dispatchDuration,
		m.pendingRequests,
	}
	for _, c := range collectors {
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

func (m *BusMetrics) recordCall(target, mode, outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(target, mode, outcome).Inc()
}

func (m *BusMetrics) recordDispatch(event, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(event, outcome).Inc()
	if elapsed > 0 {
		m.dispatchDuration.WithLabelValues(event).Observe(elapsed.Seconds())
	}
}

func (m *BusMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingRequests.Set(float64(n))
}
