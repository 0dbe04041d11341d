package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/database"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// Repository is the PostgreSQL Store. Apply locks the row with
// SELECT ... FOR UPDATE for the duration of the merge.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new job records repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("jobstore.repo")),
	}
}

// Get implements Store.
func (r *Repository) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	rec := new(JobRecord)
	err := r.db.NewSelect().
		Model(rec).
		Where("job_id = ?", jobID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("job", jobID)
		}
		r.log.Error("failed to get job", slog.String("job_id", jobID), logger.Error(err))
		return nil, apperror.NewDatabase("get job", err)
	}
	return rec, nil
}

// Create implements Store.
func (r *Repository) Create(ctx context.Context, rec *JobRecord) error {
	rec.normalize()
	if rec.Version == 0 {
		rec.Version = 1
	}

	_, err := r.db.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrExists, rec.JobID)
		}
		r.log.Error("failed to create job", slog.String("job_id", rec.JobID), logger.Error(err))
		return apperror.NewDatabase("create job", err)
	}
	return nil
}

// Set implements Store.
func (r *Repository) Set(ctx context.Context, rec *JobRecord) error {
	rec.normalize()
	rec.UpdatedAt = time.Now().UTC()

	_, err := r.db.NewInsert().
		Model(rec).
		On("CONFLICT (job_id) DO UPDATE").
		Set("raw_channel_input = EXCLUDED.raw_channel_input").
		Set("email = EXCLUDED.email").
		Set("status = EXCLUDED.status").
		Set("channel_id = EXCLUDED.channel_id").
		Set("channel_name = EXCLUDED.channel_name").
		Set("videos = EXCLUDED.videos").
		Set("improved_titles = EXCLUDED.improved_titles").
		Set("error = EXCLUDED.error").
		Set("failed_stage = EXCLUDED.failed_stage").
		Set("email_id = EXCLUDED.email_id").
		Set("notification = EXCLUDED.notification").
		Set("version = jr.version + 1").
		Set("updated_at = EXCLUDED.updated_at").
		Set("completed_at = EXCLUDED.completed_at").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to set job", slog.String("job_id", rec.JobID), logger.Error(err))
		return apperror.NewDatabase("set job", err)
	}
	return nil
}

// Apply implements Store.
func (r *Repository) Apply(ctx context.Context, jobID string, u Update) (*JobRecord, error) {
	var out *JobRecord

	err := database.RunInTx(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		rec := new(JobRecord)
		err := tx.NewSelect().
			Model(rec).
			Where("job_id = ?", jobID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NewNotFound("job", jobID)
			}
			return apperror.NewDatabase("lock job", err)
		}

		now := time.Now().UTC()
		if err := u.apply(rec, now); err != nil {
			return err
		}
		rec.UpdatedAt = now
		rec.Version++

		if _, err := tx.NewUpdate().Model(rec).WherePK().Exec(ctx); err != nil {
			return apperror.NewDatabase("update job", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrDatabase) {
			r.log.Error("failed to apply job update",
				slog.String("job_id", jobID),
				slog.String("update", fmt.Sprintf("%T", u)),
				logger.Error(err))
			return nil, err
		}
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, ErrStaleTransition) ||
			errors.Is(err, ErrAlreadyClaimed) || errors.Is(err, ErrInvalidUpdate) {
			return nil, err
		}
		return nil, apperror.NewDatabase("apply job update", err)
	}

	return out, nil
}

// ListStalled implements Store.
func (r *Repository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var recs []*JobRecord
	err := r.db.NewSelect().
		Model(&recs).
		Where("status NOT IN (?)", bun.In([]Status{StatusCompleted, StatusFailed})).
		Where("updated_at < ?", cutoff).
		OrderExpr("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list stalled jobs", logger.Error(err))
		return nil, apperror.NewDatabase("list stalled jobs", err)
	}
	return recs, nil
}

// ListUnnotified implements Store.
func (r *Repository) ListUnnotified(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var recs []*JobRecord
	err := r.db.NewSelect().
		Model(&recs).
		Where("status = ?", StatusFailed).
		Where("failed_stage IN (?)", bun.In(escalatingStages)).
		Where("(notification IS NULL OR notification = 'null'::jsonb)").
		Where("updated_at < ?", cutoff).
		OrderExpr("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list unnotified jobs", logger.Error(err))
		return nil, apperror.NewDatabase("list unnotified jobs", err)
	}
	return recs, nil
}

// CountByStatus implements Counter.
func (r *Repository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	var rows []struct {
		Status Status `bun:"status"`
		Count  int64  `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*JobRecord)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		r.log.Error("failed to count jobs", logger.Error(err))
		return nil, apperror.NewDatabase("count jobs", err)
	}

	counts := make(map[Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
