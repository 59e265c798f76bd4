package ladybug

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are optional Prometheus counters maintained by a tracer. A nil
// *Metrics is valid and counts nothing.
type Metrics struct {
	ReportsClosed      prometheus.Counter
	ReportsForced      prometheus.Counter
	ReportsFiltered    prometheus.Counter
	ReportsInvalid     prometheus.Counter
	CheckpointsDropped prometheus.Counter
	Warnings           prometheus.Counter
}

// NewMetrics constructs the tracer counters and registers them with reg, if
// reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "reports_closed_total",
			Help: "Reports closed and handed to storage.",
		}),
		ReportsForced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "reports_forced_total",
			Help: "Reports closed by Close or by the sweep.",
		}),
		ReportsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "reports_filtered_total",
			Help: "Reports suppressed by the regex filter.",
		}),
		ReportsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "reports_invalid_total",
			Help: "Reports that failed validation on close and were not stored.",
		}),
		CheckpointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "checkpoints_dropped_total",
			Help: "Checkpoints dropped because a report reached the max checkpoints.",
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ladybug", Subsystem: "tracer", Name: "warnings_total",
			Help: "Correlation warnings and errors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ReportsClosed,
			m.ReportsForced,
			m.ReportsFiltered,
			m.ReportsInvalid,
			m.CheckpointsDropped,
			m.Warnings,
		)
	}
	return m
}

func (m *Metrics) closed() {
	if m != nil {
		m.ReportsClosed.Inc()
	}
}

func (m *Metrics) forced() {
	if m != nil {
		m.ReportsForced.Inc()
	}
}

func (m *Metrics) filtered() {
	if m != nil {
		m.ReportsFiltered.Inc()
	}
}

func (m *Metrics) invalid() {
	if m != nil {
		m.ReportsInvalid.Inc()
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.CheckpointsDropped.Inc()
	}
}

func (m *Metrics) warned() {
	if m != nil {
		m.Warnings.Inc()
	}
}
