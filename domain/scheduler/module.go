package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/pipeline"
)

// Task names.
const (
	TaskSweepStalled  = "pipeline.sweep_stalled"
	TaskRecoverOutbox = "events.recover_stale"
	TaskOutboxStats   = "events.queue_stats"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Pipeline  *pipeline.Service
	Bus       events.Bus
	Log       *slog.Logger
	Cfg       *Config
}

// RegisterTasks registers all scheduled tasks. The outbox tasks are only
// registered when the bus is the PostgreSQL outbox.
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	sweep := NewStallSweepTask(p.Pipeline, p.Log)
	var err error
	if p.Cfg.SweepSchedule != "" {
		err = p.Scheduler.AddCronTask(TaskSweepStalled, p.Cfg.SweepSchedule, sweep.Run)
	} else {
		err = p.Scheduler.AddIntervalTask(TaskSweepStalled, p.Cfg.SweepInterval, sweep.Run)
	}
	if err != nil {
		return err
	}

	if outbox, ok := p.Bus.(events.Maintainer); ok {
		recovery := NewOutboxRecoveryTask(outbox, p.Log)
		if err := p.Scheduler.AddIntervalTask(TaskRecoverOutbox, p.Cfg.OutboxRecoverInterval, recovery.Run); err != nil {
			return err
		}

		stats := NewOutboxStatsTask(outbox, p.Log)
		if err := p.Scheduler.AddIntervalTask(TaskOutboxStats, p.Cfg.OutboxStatsInterval, stats.Run); err != nil {
			return err
		}
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
