// Package metrics holds the Prometheus collectors for round progression.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"trivia-round-service/internal/domain"
)

const namespace = "trivia"

// Submission outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
	OutcomeLate      = "late"
)

// Metrics is the set of collectors shared by all player sessions.
type Metrics struct {
	phaseTransitions *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	retries          prometheus.Counter
	latency          prometheus.Histogram
	activeSessions   prometheus.Gauge
	loadFailures     prometheus.Counter
	invariants       prometheus.Counter
}

// New registers the collectors on reg. A nil reg yields unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		phaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Phase changes observed by player sessions.",
		}, []string{"phase"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Settled answer submissions by outcome and kind.",
		}, []string{"outcome", "kind"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_retries_total",
			Help:      "Background retries of failed answer submissions.",
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_latency_seconds",
			Help:      "Time from first attempt until a submission settled.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Player sessions with a running event loop.",
		}),
		loadFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_failures_total",
			Help:      "Failed game or progress loads.",
		}),
		invariants: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Sessions finished because fetched data broke an invariant.",
		}),
	}
}

func (m *Metrics) PhaseChanged(p domain.Phase) {
	m.phaseTransitions.WithLabelValues(string(p)).Inc()
}

// Submission records a settled submission. kind is "answer" or "timeout".
func (m *Metrics) Submission(outcome, kind string, latency time.Duration) {
	m.submissions.WithLabelValues(outcome, kind).Inc()
	m.latency.Observe(latency.Seconds())
}

func (m *Metrics) Retry() {
	m.retries.Inc()
}

func (m *Metrics) SessionStarted() {
	m.activeSessions.Inc()
}

func (m *Metrics) SessionStopped() {
	m.activeSessions.Dec()
}

func (m *Metrics) LoadFailed() {
	m.loadFailures.Inc()
}

func (m *Metrics) InvariantViolated() {
	m.invariants.Inc()
}
