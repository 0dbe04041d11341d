package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/pipeline"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// Sweeper fails jobs stuck in a non-terminal status.
type Sweeper interface {
	SweepStalled(ctx context.Context) (int, error)
}

// StallSweepTask fails stalled pipeline jobs
type StallSweepTask struct {
	sweeper Sweeper
	log     *slog.Logger
}

// NewStallSweepTask creates a new stall sweep task
func NewStallSweepTask(sweeper Sweeper, log *slog.Logger) *StallSweepTask {
	return &StallSweepTask{
		sweeper: sweeper,
		log:     log.With(logger.Scope("scheduler.stall_sweep")),
	}
}

// Run executes the sweep
func (t *StallSweepTask) Run(ctx context.Context) error {
	start := time.Now()

	n, err := t.sweeper.SweepStalled(ctx)
	if err != nil {
		t.log.Error("stall sweep failed", logger.Error(err), slog.Int("failed_jobs", n))
		return err
	}

	if n > 0 {
		t.log.Info("failed stalled jobs",
			slog.Int("count", n),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stalled jobs",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// OutboxRecoveryTask returns outbox rows stuck in processing to pending
type OutboxRecoveryTask struct {
	outbox events.Maintainer
	log    *slog.Logger
}

// NewOutboxRecoveryTask creates a new outbox recovery task
func NewOutboxRecoveryTask(outbox events.Maintainer, log *slog.Logger) *OutboxRecoveryTask {
	return &OutboxRecoveryTask{
		outbox: outbox,
		log:    log.With(logger.Scope("scheduler.outbox_recovery")),
	}
}

// Run executes the recovery
func (t *OutboxRecoveryTask) Run(ctx context.Context) error {
	n, err := t.outbox.RecoverStale(ctx)
	if err != nil {
		t.log.Error("failed to recover stale outbox rows", logger.Error(err))
		return err
	}
	if n > 0 {
		t.log.Warn("requeued stale outbox rows", slog.Int("count", n))
	}
	return nil
}

// OutboxStatsTask publishes outbox depth to the titledoctor_outbox_events gauge
type OutboxStatsTask struct {
	outbox events.Maintainer
	log    *slog.Logger
}

// NewOutboxStatsTask creates a new outbox stats task
func NewOutboxStatsTask(outbox events.Maintainer, log *slog.Logger) *OutboxStatsTask {
	return &OutboxStatsTask{
		outbox: outbox,
		log:    log.With(logger.Scope("scheduler.outbox_stats")),
	}
}

// Run reads the outbox counts and updates the gauges
func (t *OutboxStatsTask) Run(ctx context.Context) error {
	stats, err := t.outbox.Stats(ctx)
	if err != nil {
		return err
	}

	pipeline.OutboxEvents.WithLabelValues("pending").Set(float64(stats.Pending))
	pipeline.OutboxEvents.WithLabelValues("processing").Set(float64(stats.Processing))
	pipeline.OutboxEvents.WithLabelValues("completed").Set(float64(stats.Completed))
	pipeline.OutboxEvents.WithLabelValues("failed").Set(float64(stats.Failed))

	if stats.Failed > 0 {
		t.log.Debug("outbox has failed rows", slog.Int64("failed", stats.Failed))
	}
	return nil
}
