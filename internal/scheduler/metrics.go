package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the scheduler's Prometheus collectors: a tick counter and
// a violation counter labeled by kind and severity.
type Metrics struct {
	ticks      prometheus.Counter
	violations *prometheus.CounterVec
}

// NewMetrics registers the scheduler's counters against reg; WithMetrics
// attaches the result to a Scheduler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "browsercore_scheduler_ticks_total",
			Help: "Total number of scheduler tick evaluations.",
		}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "browsercore_budget_violations_total",
			Help: "Total number of budget violations observed by kind and severity.",
		}, []string{"kind", "severity"}),
	}
	reg.MustRegister(m.ticks, m.violations)
	return m
}

// WithMetrics attaches a Metrics instance so tick() increments it.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}
