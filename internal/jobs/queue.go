// Package jobs provides a PostgreSQL-backed keyed event queue.
//
// Rows carry a topic and a key (the pipeline job id) and are processed with:
// - Atomic dequeue with FOR UPDATE SKIP LOCKED
// - At most one row in flight per (topic, key)
// - Exponential backoff for redelivery
// - Stale row recovery
// - Queue statistics
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStatus represents the state of a queued row
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// maxErrorLength bounds last_error.
const maxErrorLength = 500

// QueueConfig contains configuration for a queue
type QueueConfig struct {
	// TableName is the table holding queued rows (e.g., "pipeline_events")
	TableName string
	// MaxAttempts is the maximum number of delivery attempts (0 = unlimited)
	MaxAttempts int
	// BaseRetryDelaySec is the base delay in seconds for retries (default: 60)
	BaseRetryDelaySec int
	// MaxRetryDelaySec is the maximum retry delay in seconds (default: 3600)
	MaxRetryDelaySec int
	// BatchSize is the default number of rows to dequeue at once (default: 10)
	BatchSize int
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults
func DefaultQueueConfig(tableName string) QueueConfig {
	return QueueConfig{
		TableName:         tableName,
		MaxAttempts:       0, // unlimited
		BaseRetryDelaySec: 60,
		MaxRetryDelaySec:  3600,
		BatchSize:         10,
	}
}

// Job is a claimed queue row.
type Job struct {
	ID           string          `bun:"id"`
	Topic        string          `bun:"topic"`
	Key          string          `bun:"job_id"`
	Payload      json.RawMessage `bun:"payload,type:jsonb"`
	AttemptCount int             `bun:"attempt_count"`
	CreatedAt    time.Time       `bun:"created_at"`
}

// Queue provides queue operations using PostgreSQL.
// It uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

// NewQueue creates a new queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	if config.BaseRetryDelaySec == 0 {
		config.BaseRetryDelaySec = 60
	}
	if config.MaxRetryDelaySec == 0 {
		config.MaxRetryDelaySec = 3600
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Config returns the effective queue configuration.
func (q *Queue) Config() QueueConfig {
	return q.config
}

// Enqueue inserts a pending row and returns its id.
func (q *Queue) Enqueue(ctx context.Context, topic, key string, payload []byte) (string, error) {
	id := uuid.NewString()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, topic, job_id, payload, status, attempt_count, priority, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?::jsonb, 'pending', 0, 0, now(), now(), now())`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, id, topic, key, string(payload)); err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}

	return id, nil
}

// Dequeue atomically claims rows for processing.
//
// A row is skipped while another row with the same (topic, job_id) is
// processing, so a key never has two deliveries in flight.
//
// SQL Pattern:
//
//	WITH cte AS (
//	  SELECT id FROM table p
//	  WHERE status='pending' AND scheduled_at <= now()
//	    AND NOT EXISTS (in-flight row with same topic and job_id)
//	  ORDER BY priority DESC, created_at ASC
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT $1
//	)
//	UPDATE table SET status='processing', started_at=now()
//	FROM cte WHERE table.id = cte.id
//	RETURNING id, topic, job_id, payload, attempt_count, created_at
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]Job, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}

	// This is strategic SQL that cannot be expressed with Bun's query builder
	query := fmt.Sprintf(`
		WITH cte AS (
			SELECT p.id FROM %s p
			WHERE p.status='pending' AND (p.scheduled_at IS NULL OR p.scheduled_at <= now())
				AND NOT EXISTS (
					SELECT 1 FROM %s f
					WHERE f.status='processing' AND f.topic = p.topic AND f.job_id = p.job_id
				)
			ORDER BY p.priority DESC, p.created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE %s j
		SET status='processing', started_at=now(), updated_at=now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.id, j.topic, j.job_id, j.payload, j.attempt_count, j.created_at`,
		q.config.TableName, q.config.TableName, q.config.TableName)

	var jobs []Job
	if err := q.db.NewRaw(query, batchSize).Scan(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	return jobs, nil
}

// MarkCompleted marks a row as completed
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed',
			completed_at = now(),
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}

	return nil
}

// MarkFailed records a failed delivery and schedules a retry with exponential backoff.
// If maxAttempts is configured and reached, the row is permanently marked as failed.
func (q *Queue) MarkFailed(ctx context.Context, id string, attemptCount int, errMsg string) error {
	attempt := attemptCount + 1

	if q.config.MaxAttempts > 0 && attempt >= q.config.MaxAttempts {
		query := fmt.Sprintf(`
			UPDATE %s
			SET status = 'failed',
				attempt_count = ?,
				last_error = ?,
				updated_at = now()
			WHERE id = ?`,
			q.config.TableName)

		if _, err := q.db.ExecContext(ctx, query, attempt, truncateError(errMsg), id); err != nil {
			return fmt.Errorf("mark failed (permanent) failed: %w", err)
		}

		q.log.Warn("event permanently failed after max attempts",
			slog.String("event_id", id),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))

		return nil
	}

	delay := q.retryDelay(attempt)

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			attempt_count = ?,
			last_error = ?,
			started_at = NULL,
			scheduled_at = now() + (? || ' seconds')::interval,
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, attempt, truncateError(errMsg), fmt.Sprintf("%d", int(delay.Seconds())), id); err != nil {
		return fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("event scheduled for redelivery",
		slog.String("event_id", id),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	return nil
}

// MarkDead permanently fails a row that can never be processed.
func (q *Queue) MarkDead(ctx context.Context, id string, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'failed',
			last_error = ?,
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, truncateError(errMsg), id); err != nil {
		return fmt.Errorf("mark dead failed: %w", err)
	}

	return nil
}

// retryDelay is baseDelay * attempt^2, capped at MaxRetryDelaySec.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := math.Min(
		float64(q.config.MaxRetryDelaySec),
		float64(q.config.BaseRetryDelaySec)*float64(attempt)*float64(attempt),
	)
	return time.Duration(delay) * time.Second
}

// RecoverStaleJobs returns rows stuck in 'processing' for longer than
// staleAfter to 'pending'. Rows get stuck when the process exits mid-dispatch.
func (q *Queue) RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = 'processing'
			AND started_at < now() - ? * interval '1 second'`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, int64(staleAfter/time.Second))
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale events",
			slog.Int64("count", count),
			slog.Duration("stale_after", staleAfter))
	}

	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM %s`,
		q.config.TableName)

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	return stats, nil
}

// truncateError truncates an error message to maxErrorLength characters
func truncateError(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
