package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's prometheus collectors. A nil *Metrics is
// valid everywhere and records nothing, so tests and bare CLI runs skip
// registration entirely.
type Metrics struct {
	Attempts        *prometheus.CounterVec
	GuardVerdicts   *prometheus.CounterVec
	Commits         *prometheus.CounterVec
	Exhausted       *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
}

// New registers the engine collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "episode_attempts_total",
			Help:      "Generation attempts per project, including retries.",
		}, []string{"project"}),
		GuardVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "guard_verdicts_total",
			Help:      "Guard verdicts by guard name and outcome.",
		}, []string{"guard", "verdict"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "episode_commits_total",
			Help:      "Episodes committed to continuity state per project.",
		}, []string{"project"}),
		Exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyforge",
			Name:      "episodes_exhausted_total",
			Help:      "Episodes that ran out of retries per project.",
		}, []string{"project"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storyforge",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one generate+validate attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"project"}),
	}
	reg.MustRegister(m.Attempts, m.GuardVerdicts, m.Commits, m.Exhausted, m.AttemptDuration)
	return m
}

// ObserveAttempt records one attempt and its duration.
func (m *Metrics) ObserveAttempt(project string, d time.Duration) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(project).Inc()
	m.AttemptDuration.WithLabelValues(project).Observe(d.Seconds())
}

// ObserveVerdict records one guard verdict.
func (m *Metrics) ObserveVerdict(guardName string, passed bool) {
	if m == nil {
		return
	}
	verdict := "fail"
	if passed {
		verdict = "pass"
	}
	m.GuardVerdicts.WithLabelValues(guardName, verdict).Inc()
}

// ObserveCommit records a committed episode.
func (m *Metrics) ObserveCommit(project string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(project).Inc()
}

// ObserveExhausted records an episode that ran out of retries.
func (m *Metrics) ObserveExhausted(project string) {
	if m == nil {
		return
	}
	m.Exhausted.WithLabelValues(project).Inc()
}
