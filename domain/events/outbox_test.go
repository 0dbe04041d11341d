package events

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
	"github.com/ArpitGupta4957/yt-title-doctor/migrations"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	sqldb := stdlib.OpenDBFromPool(pool)
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.UpContext(ctx, sqldb, "."))

	db := bun.NewDB(sqldb, pgdialect.New())
	_, err = db.ExecContext(ctx, "DELETE FROM "+OutboxTable)
	require.NoError(t, err)

	queue := jobs.NewQueue(db, jobs.QueueConfig{TableName: OutboxTable, MaxAttempts: 2, BaseRetryDelaySec: 1}, newTestLogger())
	wc := jobs.DefaultWorkerConfig("test.outbox")
	wc.PollInterval = 20 * time.Millisecond

	o := NewOutbox(queue, OutboxConfig{Worker: wc, Concurrency: 2}, newTestLogger())
	require.NoError(t, o.Start(ctx))
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o
}

func TestOutbox_PublishDispatches(t *testing.T) {
	o := newTestOutbox(t)

	received := make(chan Message, 1)
	o.Subscribe(TopicSubmitted, func(ctx context.Context, msg Message) error {
		received <- msg
		return nil
	})

	require.NoError(t, o.Publish(context.Background(), submitted("job_outbox")))

	select {
	case msg := <-received:
		assert.Equal(t, "job_outbox", msg.Key())
	case <-time.After(5 * time.Second):
		t.Fatal("outbox did not dispatch")
	}

	assert.Eventually(t, func() bool {
		stats, err := o.Stats(context.Background())
		return err == nil && stats.Completed == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOutbox_HandlerErrorRedeliversThenFails(t *testing.T) {
	o := newTestOutbox(t)

	var attempts atomic.Int32
	o.Subscribe(TopicEmailSent, func(ctx context.Context, msg Message) error {
		attempts.Add(1)
		return errors.New("store unavailable")
	})

	require.NoError(t, o.Publish(context.Background(), EmailSent{JobID: "job_retry", Email: "a@b.com", EmailID: "m"}))

	assert.Eventually(t, func() bool {
		stats, err := o.Stats(context.Background())
		return err == nil && stats.Failed == 1
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}
