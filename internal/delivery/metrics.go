package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for delivery note transitions.
type Metrics struct {
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

// NewMetrics registers the collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_delivery_transitions_total",
			Help: "Committed delivery note status transitions.",
		}, []string{"from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_delivery_transition_failures_total",
			Help: "Rejected or failed delivery note operations by operation and error kind.",
		}, []string{"op", "kind"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.transitions, m.failures)
	}
	return m
}

func (m *Metrics) transitioned(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) failed(op string, err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, errorKind(err)).Inc()
}
