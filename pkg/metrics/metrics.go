// Package metrics exposes Prometheus instruments for classification,
// learning and proposal passes. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the matelearn instruments.
type Metrics struct {
	Registry prometheus.Gatherer

	PairsClassified prometheus.Counter
	Observations    *prometheus.CounterVec
	RulesLearned    prometheus.Counter
	Proposals       *prometheus.CounterVec
	PassDuration    *prometheus.HistogramVec
}

// New registers the instruments with reg. A nil reg uses a fresh private
// registry, so independent instances never collide.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PairsClassified: f.NewCounter(prometheus.CounterOpts{
			Name: "matelearn_pairs_classified_total",
			Help: "Feature pairs passed through the classifier",
		}),
		Observations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matelearn_observations_total",
			Help: "Constraint observations produced, by kind",
		}, []string{"kind"}),
		RulesLearned: f.NewCounter(prometheus.CounterOpts{
			Name: "matelearn_rules_learned_total",
			Help: "Rules created or extended by learning passes",
		}),
		Proposals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "matelearn_proposals_total",
			Help: "Constraint proposals emitted, by kind",
		}, []string{"kind"}),
		PassDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matelearn_pass_duration_seconds",
			Help:    "Duration of aggregate, learn and propose passes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"pass"}),
	}
}

// AddPairs records n classified feature pairs.
func (m *Metrics) AddPairs(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PairsClassified.Add(float64(n))
}

// AddObservations records n observations of the named kind.
func (m *Metrics) AddObservations(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Observations.WithLabelValues(kind).Add(float64(n))
}

// AddRules records n learned or extended rules.
func (m *Metrics) AddRules(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RulesLearned.Add(float64(n))
}

// IncProposal records one emitted proposal of the named kind.
func (m *Metrics) IncProposal(kind string) {
	if m == nil {
		return
	}
	m.Proposals.WithLabelValues(kind).Inc()
}

// ObservePass records the duration of a pass. Call with time.Now() at the
// start of the pass.
func (m *Metrics) ObservePass(pass string, start time.Time) {
	if m == nil {
		return
	}
	m.PassDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}
