package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage outcomes recorded by StageOutcomes.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeStale   = "stale"
	outcomeError   = "error"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titledoctor_submissions_total",
		Help: "Submissions received, by result (accepted, invalid, error)",
	}, []string{"result"})

	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titledoctor_stage_outcomes_total",
		Help: "Stage handler runs by stage and outcome (success, failure, stale, error)",
	}, []string{"stage", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "titledoctor_stage_duration_seconds",
		Help:    "Wall time of one stage handler run, including the external call",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	FailureNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "titledoctor_failure_notifications_total",
		Help: "Failure notifications by result (sent, send_failed, duplicate)",
	}, []string{"result"})

	OutboxEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "titledoctor_outbox_events",
		Help: "Outbox rows by status",
	}, []string{"status"})

	StalledJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titledoctor_stalled_jobs_total",
		Help: "Jobs failed by the stall sweep",
	})

	RepublishedFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "titledoctor_failure_events_republished_total",
		Help: "Failure events re-published by the sweep for failed jobs never notified",
	})
)
