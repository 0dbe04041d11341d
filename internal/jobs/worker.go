package jobs

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// WorkerConfig contains configuration for a polling worker
type WorkerConfig struct {
	// Name identifies the worker in logs
	Name string
	// PollInterval is how often an idle worker polls (default: 5s)
	PollInterval time.Duration
	// BatchSize is the number of rows claimed per batch (default: 10)
	BatchSize int
	// StaleAfter is how long a row may sit in 'processing' before it is
	// returned to 'pending' (default: 10m)
	StaleAfter time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with the defaults applied
func DefaultWorkerConfig(name string) WorkerConfig {
	return WorkerConfig{Name: name}.withDefaults()
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

// BatchResult is what one call of a BatchFunc handled.
type BatchResult struct {
	Succeeded int
	Failed    int
}

// Claimed is the number of rows the batch handled.
func (r BatchResult) Claimed() int {
	return r.Succeeded + r.Failed
}

// BatchFunc claims and handles at most batchSize rows.
type BatchFunc func(ctx context.Context, batchSize int) (BatchResult, error)

// Worker runs a BatchFunc on a poll interval. A full batch is followed
// immediately by another so a backlog drains without waiting for the
// ticker. Trigger wakes an idle worker early.
type Worker struct {
	config  WorkerConfig
	log     *slog.Logger
	process BatchFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wakeCh  chan struct{}

	succeeded atomic.Int64
	failed    atomic.Int64
	batches   atomic.Int64
	lastBatch atomic.Int64 // unix nanos
}

// NewWorker creates a worker; zero config fields take their defaults.
func NewWorker(config WorkerConfig, log *slog.Logger, process BatchFunc) *Worker {
	config = config.withDefaults()
	return &Worker{
		config:  config,
		log:     log.With(slog.String("worker", config.Name)),
		process: process,
		wakeCh:  make(chan struct{}, 1),
	}
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig {
	return w.config
}

// Start launches the loop. The loop outlives ctx only through Stop; ctx is
// used solely for its values.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	go w.run(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch, or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		w.log.Info("worker stopped")
	case <-ctx.Done():
		w.log.Warn("worker stop timed out")
	}
	return nil
}

// Trigger wakes the loop before the next tick. It never blocks.
func (w *Worker) Trigger() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wakeCh:
		}

		for w.runBatch(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// runBatch reports whether the batch was full.
func (w *Worker) runBatch(ctx context.Context) bool {
	res, err := w.process(ctx, w.config.BatchSize)
	w.record(res)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("batch failed", logger.Error(err))
		}
		return false
	}
	return res.Claimed() >= w.config.BatchSize
}

func (w *Worker) record(res BatchResult) {
	w.batches.Add(1)
	w.lastBatch.Store(time.Now().UnixNano())
	w.succeeded.Add(int64(res.Succeeded))
	w.failed.Add(int64(res.Failed))
}

// Metrics returns the worker's counters
func (w *Worker) Metrics() WorkerMetrics {
	m := WorkerMetrics{
		Batches:   w.batches.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
	}
	m.Processed = m.Succeeded + m.Failed
	if ns := w.lastBatch.Load(); ns > 0 {
		m.LastBatchAt = time.Unix(0, ns).UTC()
	}
	return m
}

// IsRunning returns whether the loop is running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WorkerMetrics contains worker counters
type WorkerMetrics struct {
	Batches     int64     `json:"batches"`
	Processed   int64     `json:"processed"`
	Succeeded   int64     `json:"succeeded"`
	Failed      int64     `json:"failed"`
	LastBatchAt time.Time `json:"last_batch_at,omitempty"`
}
