package scheduler

import (
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
)

// Config holds scheduler configuration
type Config struct {
	// Enabled controls whether the scheduler runs
	Enabled bool

	// SweepInterval is how often stalled jobs are failed
	SweepInterval time.Duration

	// SweepSchedule, when set, replaces SweepInterval.
	// Format: "second minute hour day-of-month month day-of-week"
	SweepSchedule string

	// OutboxRecoverInterval is how often stuck outbox rows are requeued
	OutboxRecoverInterval time.Duration

	// OutboxStatsInterval is how often outbox gauges are refreshed
	OutboxStatsInterval time.Duration

	// TaskTimeout bounds one task run
	TaskTimeout time.Duration
}

// NewConfig derives the scheduler config from the application config
func NewConfig(cfg *config.Config) *Config {
	sc := cfg.Scheduler
	return &Config{
		Enabled:               sc.Enabled,
		SweepInterval:         orDefault(cfg.Pipeline.SweepInterval, time.Minute),
		SweepSchedule:         sc.SweepSchedule,
		OutboxRecoverInterval: orDefault(sc.OutboxRecoverInterval, 5*time.Minute),
		OutboxStatsInterval:   orDefault(sc.OutboxStatsInterval, 30*time.Second),
		TaskTimeout:           orDefault(sc.TaskTimeout, 5*time.Minute),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
