package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the certification lifecycle.
type Metrics struct {
	// Status transitions by source and target validation status
	Transitions *prometheus.CounterVec

	// Submissions by outcome: accepted, noop, invalid, blocked, claimed, failed
	Submissions *prometheus.CounterVec

	// Authority round trips by operation and outcome
	AuthorityLatency *prometheus.HistogramVec

	// Compare-and-swap losses by operation
	RaceLosses *prometheus.CounterVec
}

// New registers the certification metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certflow_certification_transitions_total",
			Help: "Validation status transitions applied to certification records",
		}, []string{"from", "to"}),

		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certflow_certification_submissions_total",
			Help: "Submission attempts by outcome",
		}, []string{"outcome"}),

		AuthorityLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certflow_authority_request_duration_seconds",
			Help:    "Duration of validation authority calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "outcome"}),

		RaceLosses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certflow_certification_race_losses_total",
			Help: "Writes aborted because the record changed since it was read",
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) IncrementSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveAuthorityCall(operation, outcome string, d time.Duration) {
	if m != nil {
		m.AuthorityLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementRaceLoss(operation string) {
	if m != nil {
		m.RaceLosses.WithLabelValues(operation).Inc()
	}
}
