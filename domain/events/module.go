package events

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
)

// Module provides the pipeline event bus. PIPELINE_TRANSPORT selects the
// PostgreSQL outbox (default) or the in-process service.
var Module = fx.Module("events",
	fx.Provide(NewBus),
)

// BusParams are the dependencies for building the bus
type BusParams struct {
	fx.In

	LC  fx.Lifecycle
	DB  bun.IDB
	Cfg *config.Config
	Log *slog.Logger
}

// NewBus builds the configured transport and registers its lifecycle.
func NewBus(p BusParams) Bus {
	if !p.Cfg.Pipeline.UseOutbox() {
		svc := NewService(p.Log)
		p.LC.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				p.Log.Info("draining in-process events")
				return svc.Drain(ctx)
			},
		})
		return svc
	}

	pc := p.Cfg.Pipeline
	queue := jobs.NewQueue(p.DB, jobs.QueueConfig{
		TableName:         OutboxTable,
		MaxAttempts:       pc.DeliveryMaxAttempts,
		BaseRetryDelaySec: pc.DeliveryRetryDelaySec,
		BatchSize:         pc.WorkerBatchSize,
	}, p.Log)

	wc := jobs.DefaultWorkerConfig("events.outbox")
	wc.PollInterval = pc.WorkerInterval()
	wc.BatchSize = pc.WorkerBatchSize

	outbox := NewOutbox(queue, OutboxConfig{Worker: wc, Concurrency: pc.WorkerConcurrency}, p.Log)
	p.LC.Append(fx.Hook{
		OnStart: outbox.Start,
		OnStop:  outbox.Stop,
	})
	return outbox
}
