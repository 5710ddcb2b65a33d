package arbiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors an engine reports to.
type Metrics struct {
	evaluations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	steps       prometheus.Histogram
	calls       *prometheus.CounterVec
	validations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by rule and outcome (ok, functional_error, failed).",
		}, []string{"rule", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating rules.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"rule"}),
		steps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arbiter",
			Name:      "evaluation_steps",
			Help:      "Interpreter steps used by an evaluation.",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 6),
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "function_calls_total",
			Help:      "Calls of tree elements by name and outcome.",
		}, []string{"function", "outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbiter",
			Name:      "validations_total",
			Help:      "Rule validations by result (validated, rejected).",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.evaluations, m.duration, m.steps, m.calls, m.validations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeEvaluation(rule string, res *Result, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "failed"
	case len(res.Errors) > 0:
		outcome = "functional_error"
	}
	m.evaluations.WithLabelValues(rule, outcome).Inc()
	m.duration.WithLabelValues(rule).Observe(d.Seconds())
	if res != nil {
		m.steps.Observe(float64(res.Steps))
	}
}

func (m *Metrics) observeCall(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.calls.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) observeValidation(ok bool) {
	if m == nil {
		return
	}
	result := "validated"
	if !ok {
		result = "rejected"
	}
	m.validations.WithLabelValues(result).Inc()
}
