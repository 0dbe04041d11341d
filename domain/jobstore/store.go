// Package jobstore persists JobRecords keyed by job id.
//
// Stage handlers never write whole records. They submit an Update, which the
// store applies as one read-merge-write under a per-key lock.
package jobstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStaleTransition means the target status is not ahead of the current one.
	// Handlers treat it as a duplicate delivery and drop it.
	ErrStaleTransition = errors.New("stale status transition")
	// ErrAlreadyClaimed means the failure notification was already claimed.
	ErrAlreadyClaimed = errors.New("notification already claimed")
	// ErrInvalidUpdate means the update violates a record invariant.
	ErrInvalidUpdate = errors.New("invalid job update")
	// ErrExists means Create was called for a job id already present.
	ErrExists = errors.New("job already exists")
)

// Store is the durable keyed map from job id to JobRecord.
type Store interface {
	// Get returns the record or an apperror not_found error.
	Get(ctx context.Context, jobID string) (*JobRecord, error)
	// Create inserts a new record; ErrExists when the id is taken.
	Create(ctx context.Context, rec *JobRecord) error
	// Set overwrites the record (last write wins).
	Set(ctx context.Context, rec *JobRecord) error
	// Apply atomically reads, merges u and writes the record, returning the result.
	Apply(ctx context.Context, jobID string, u Update) (*JobRecord, error)
	// ListStalled returns non-terminal records last updated before cutoff, oldest first.
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error)
	// ListUnnotified returns Failed records of escalating stages that have no
	// notification claim and were last updated before cutoff, oldest first.
	ListUnnotified(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error)
}

// Counter reports how many records sit in each status.
type Counter interface {
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
