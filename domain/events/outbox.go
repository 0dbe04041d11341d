package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// OutboxTable holds published pipeline events.
const OutboxTable = "pipeline_events"

// Outbox is the PostgreSQL transport. Publish inserts a row; a jobs.Worker
// claims batches, groups them by (topic, job id) and dispatches each group
// sequentially while groups run concurrently.
type Outbox struct {
	queue       *jobs.Queue
	worker      *jobs.Worker
	subs        *subscriptions
	concurrency int
	staleAfter  time.Duration
	log         *slog.Logger
}

// OutboxConfig configures dispatching.
type OutboxConfig struct {
	Worker      jobs.WorkerConfig
	Concurrency int
}

// NewOutbox wires a queue to a polling worker.
func NewOutbox(queue *jobs.Queue, cfg OutboxConfig, log *slog.Logger) *Outbox {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	o := &Outbox{
		queue:       queue,
		subs:        newSubscriptions(),
		concurrency: cfg.Concurrency,
		log:         log.With(logger.Scope("events.outbox")),
	}
	o.worker = jobs.NewWorker(cfg.Worker, log, o.processBatch)
	o.staleAfter = o.worker.Config().StaleAfter
	return o
}

// Subscribe registers h for topic.
func (o *Outbox) Subscribe(topic Topic, h Handler) {
	o.subs.add(topic, h)
}

// SubscriberCount returns the number of handlers registered for topic.
func (o *Outbox) SubscriberCount(topic Topic) int {
	return o.subs.count(topic)
}

// Publish validates msg, stores it and wakes the dispatcher.
func (o *Outbox) Publish(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	id, err := o.queue.Enqueue(ctx, string(msg.Topic()), msg.Key(), payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Topic(), err)
	}

	o.log.Debug("event published",
		slog.String("event_id", id),
		slog.String("topic", string(msg.Topic())),
		slog.String("job_id", msg.Key()))

	o.worker.Trigger()
	return nil
}

// Start begins dispatching.
func (o *Outbox) Start(ctx context.Context) error {
	if n, err := o.queue.RecoverStaleJobs(ctx, o.staleAfter); err != nil {
		o.log.Warn("failed to recover stale events on start", logger.Error(err))
	} else if n > 0 {
		o.log.Info("recovered stale events on start", slog.Int("count", n))
	}
	return o.worker.Start(context.Background())
}

// Stop waits for the current batch to finish.
func (o *Outbox) Stop(ctx context.Context) error {
	return o.worker.Stop(ctx)
}

// RecoverStale implements Maintainer.
func (o *Outbox) RecoverStale(ctx context.Context) (int, error) {
	return o.queue.RecoverStaleJobs(ctx, o.staleAfter)
}

// Stats implements Maintainer.
func (o *Outbox) Stats(ctx context.Context) (*jobs.Stats, error) {
	return o.queue.GetStats(ctx)
}

// Metrics returns dispatch counters.
func (o *Outbox) Metrics() jobs.WorkerMetrics {
	return o.worker.Metrics()
}

func (o *Outbox) processBatch(ctx context.Context, batchSize int) (jobs.BatchResult, error) {
	var res jobs.BatchResult

	claimed, err := o.queue.Dequeue(ctx, batchSize)
	if err != nil || len(claimed) == 0 {
		return res, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, group := range groupByKey(claimed) {
		g.Go(func() error {
			for _, job := range group {
				ok := o.dispatch(gctx, job)
				mu.Lock()
				if ok {
					res.Succeeded++
				} else {
					res.Failed++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	return res, g.Wait()
}

// dispatch runs every subscriber for job and reports whether all succeeded.
func (o *Outbox) dispatch(ctx context.Context, job jobs.Job) bool {
	log := o.log.With(
		slog.String("event_id", job.ID),
		slog.String("topic", job.Topic),
		slog.String("job_id", job.Key),
	)

	msg, err := Decode(Topic(job.Topic), job.Payload)
	if err != nil {
		log.Error("dropping undecodable event", logger.Error(err))
		if markErr := o.queue.MarkDead(ctx, job.ID, err.Error()); markErr != nil {
			log.Error("failed to mark event dead", logger.Error(markErr))
		}
		return false
	}

	var handlerErr error
	for _, h := range o.subs.get(msg.Topic()) {
		if err := runHandler(ctx, h, msg); err != nil {
			handlerErr = err
		}
	}

	if handlerErr != nil {
		log.Warn("event handler failed, scheduling redelivery",
			slog.Int("attempt", job.AttemptCount+1),
			logger.Error(handlerErr))
		if err := o.queue.MarkFailed(ctx, job.ID, job.AttemptCount, handlerErr.Error()); err != nil {
			log.Error("failed to mark event failed", logger.Error(err))
		}
		return false
	}

	if err := o.queue.MarkCompleted(ctx, job.ID); err != nil {
		log.Error("failed to mark event completed", logger.Error(err))
	}
	return true
}

func runHandler(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

// groupByKey splits a batch into per-(topic, job id) groups, each ordered by creation.
func groupByKey(batch []jobs.Job) [][]jobs.Job {
	index := make(map[string]int)
	var groups [][]jobs.Job
	for _, j := range batch {
		k := deliveryKey(Topic(j.Topic), j.Key)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], j)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].CreatedAt.Before(g[b].CreatedAt) })
	}
	return groups
}
