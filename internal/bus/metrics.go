package bus

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the live gauges/counters the bus updates as it runs,
// mirroring StreamManager.GetMetrics() aggregation but pushed
// through a real Prometheus registry instead of a polled snapshot struct.
type Metrics struct {
	BusesActive prometheus.Gauge
	ConsumersActive prometheus.Gauge
	EventsSent prometheus.Counter
	OwnershipViolations prometheus.Counter
}

// NewMetrics registers the bus metric family on reg and returns the handles.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BusesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamgate",
			Subsystem: "bus",
			Name: "active_buses",
			Help: "Number of streaming buses currently open.",
		}),
		ConsumersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streamgate",
			Subsystem: "bus",
			Name: "active_consumers",
			Help: "Number of registered bus consumers across all open buses.",
		}),
		EventsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Subsystem: "bus",
			Name: "events_sent_total",
			Help: "Total events passed to Bus.Send.",
		}),
		OwnershipViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streamgate",
			Subsystem: "bus",
			Name: "completion_ownership_violations_total",
			Help: "Total rejected signal_completion attempts with a mismatched token.",
		}),
	}
	reg.MustRegister(m.BusesActive, m.ConsumersActive, m.EventsSent, m.OwnershipViolations)
	return m
}
