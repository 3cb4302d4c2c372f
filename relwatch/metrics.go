package relwatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is a
// no-op.
type Metrics struct {
	Runs          *prometheus.CounterVec
	StageFailures *prometheus.CounterVec
	FetchAttempts *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	LastCommit    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relwatch",
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"outcome"}, // committed, skipped, rejected, failed
		),
		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relwatch",
				Name:      "stage_failures_total",
				Help:      "Failed runs by the stage that failed",
			},
			[]string{"stage"},
		),
		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relwatch",
				Name:      "fetch_attempts_total",
				Help:      "HTTP attempts by result",
			},
			[]string{"result"}, // ok, error
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "relwatch",
				Name:      "run_duration_seconds",
				Help:      "Wall time of one pipeline run",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		LastCommit: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "relwatch",
				Name:      "last_commit_timestamp_seconds",
				Help:      "Unix time of the last committed release",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Runs, m.StageFailures, m.FetchAttempts, m.RunDuration, m.LastCommit)
	}
	return m
}

func (m *Metrics) observeRun(r Result) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == OutcomeFailed {
		m.StageFailures.WithLabelValues(string(r.Stage)).Inc()
	}
	m.RunDuration.Observe(r.Duration.Seconds())
	if r.Outcome == OutcomeCommitted {
		m.LastCommit.SetToCurrentTime()
	}
}

func (m *Metrics) observeAttempt(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.FetchAttempts.WithLabelValues("error").Inc()
		return
	}
	m.FetchAttempts.WithLabelValues("ok").Inc()
}
