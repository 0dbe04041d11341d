// Package database opens the PostgreSQL pool, wraps it in bun and provides
// the transaction helper used by the job store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		NewPgxPool,
		NewBunDB,
		func(db *bun.DB) bun.IDB { return db },
	),
)

// slowQueryThreshold is the duration above which queries are logged as warnings.
const slowQueryThreshold = 3 * time.Second

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "titledoctor_db_query_duration_seconds",
	Help:    "Duration of SQL statements by operation and result",
	Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
}, []string{"operation", "result"})

// NewPgxPool creates the connection pool and verifies it with a ping
func NewPgxPool(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	log = log.With(logger.Scope("database"))
	dc := cfg.Database

	poolConfig, err := pgxpool.ParseConfig(dc.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	poolConfig.MaxConns = int32(dc.MaxOpenConns)
	poolConfig.MinConns = int32(dc.MaxIdleConns)
	poolConfig.MaxConnIdleTime = dc.MaxIdleTime
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "yt-title-doctor"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s:%d: %w", dc.Host, dc.Port, err)
	}

	log.Info("database pool created",
		slog.String("host", dc.Host),
		slog.Int("port", dc.Port),
		slog.String("database", dc.Database),
		slog.Int("max_conns", dc.MaxOpenConns),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("closing database pool")
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

// NewBunDB wraps the pool in bun. Closing happens through the pool.
func NewBunDB(pool *pgxpool.Pool, cfg *config.Config, log *slog.Logger) *bun.DB {
	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
	db.AddQueryHook(&queryHook{
		log:     log.With(logger.Scope("database.query")),
		verbose: cfg.Database.QueryDebug,
	})
	return db
}

// queryHook times every statement. Failures and slow statements are always
// logged; DB_QUERY_DEBUG logs the rest at debug level.
type queryHook struct {
	log     *slog.Logger
	verbose bool
}

func (h *queryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime)
	failed := event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows)

	result := "ok"
	if failed {
		result = "error"
	}
	queryDuration.WithLabelValues(event.Operation(), result).Observe(duration.Seconds())

	switch {
	case failed:
		h.log.Error("query failed",
			slog.String("query", event.Query),
			slog.Duration("duration", duration),
			logger.Error(event.Err))
	case duration > slowQueryThreshold:
		h.log.Warn("slow query",
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	case h.verbose:
		h.log.Debug("query",
			slog.String("query", event.Query),
			slog.Duration("duration", duration))
	}
}

// txAttempts bounds RunInTx retries after serialization failures and deadlocks.
const txAttempts = 3

// RunInTx runs fn in a transaction, committing when it returns nil. A
// transaction aborted by a serialization failure or deadlock is retried.
func RunInTx(ctx context.Context, db bun.IDB, fn func(ctx context.Context, tx bun.Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = db.RunInTx(ctx, nil, fn)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		time.Sleep(time.Duration(attempt*attempt) * 10 * time.Millisecond)
	}
	return err
}

// retryable reports whether PostgreSQL aborted the transaction in a way a
// plain retry can fix.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return true
	}
	return false
}
