package lbstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional Prometheus counters shared by storages. A nil *Metrics
// is valid and counts nothing.
type Metrics struct {
	Stored *prometheus.CounterVec
	Failed *prometheus.CounterVec
}

// NewMetrics constructs the storage counters and registers them with reg, if
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "storage", Name: "reports_stored_total",
			Help: "Reports written to storage.",
		}, []string{"storage"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "storage", Name: "write_failures_total",
			Help: "Reports dropped by log storages because of write failures.",
		}, []string{"storage"}),
	}
	if reg != nil {
		reg.MustRegister(m.Stored, m.Failed)
	}
	return m
}

func (m *Metrics) stored(storage string) {
	if m != nil {
		m.Stored.WithLabelValues(storage).Inc()
	}
}

func (m *Metrics) failed(storage string) {
	if m != nil {
		m.Failed.WithLabelValues(storage).Inc()
	}
}

// IncStored increments the stored counter for the storage, for backends in
// other packages.
func (m *Metrics) IncStored(storage string) { m.stored(storage) }
