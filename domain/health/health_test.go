package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/scheduler"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeCounter struct {
	counts map[jobstore.Status]int64
	err    error
}

func (f fakeCounter) CountByStatus(ctx context.Context) (map[jobstore.Status]int64, error) {
	return f.counts, f.err
}

type fakeTasks struct{ info []scheduler.TaskInfo }

func (f fakeTasks) GetTaskInfo() []scheduler.TaskInfo { return f.info }
func (f fakeTasks) IsRunning() bool                   { return true }

type outboxBus struct {
	*events.Service
	stats jobs.Stats
}

func (b *outboxBus) RecoverStale(ctx context.Context) (int, error) { return 0, nil }
func (b *outboxBus) Stats(ctx context.Context) (*jobs.Stats, error) {
	s := b.stats
	return &s, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		YouTube:     config.YouTubeConfig{APIKey: "yt-key"},
	}
}

func newEcho(h *Handler, m *MetricsHandler) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperror.HTTPErrorHandler(newTestLogger())
	RegisterRoutes(e, h, m)
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	m := newMetricsHandler(fakeCounter{}, events.NewService(newTestLogger()), fakeTasks{})

	t.Run("healthy", func(t *testing.T) {
		e := newEcho(newHandler(fakePinger{}, testConfig()), m)
		rec := get(e, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "healthy", body.Checks["database"].Status)
		assert.Equal(t, "configured", body.Checks["youtube"].Status)
		assert.Equal(t, "not_configured", body.Checks["mailgun"].Status)
	})

	t.Run("database down", func(t *testing.T) {
		e := newEcho(newHandler(fakePinger{err: errors.New("connection refused")}, testConfig()), m)
		rec := get(e, "/health")
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["database"].Message)
	})

	t.Run("api alias", func(t *testing.T) {
		e := newEcho(newHandler(fakePinger{}, testConfig()), m)
		assert.Equal(t, http.StatusOK, get(e, "/api/health").Code)
	})
}

func TestReadyAndLiveness(t *testing.T) {
	m := newMetricsHandler(fakeCounter{}, events.NewService(newTestLogger()), fakeTasks{})

	e := newEcho(newHandler(fakePinger{}, testConfig()), m)
	assert.Equal(t, http.StatusOK, get(e, "/ready").Code)
	rec := get(e, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	e = newEcho(newHandler(fakePinger{err: errors.New("down")}, testConfig()), m)
	assert.Equal(t, http.StatusServiceUnavailable, get(e, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(e, "/healthz").Code)
}

func TestDebug(t *testing.T) {
	m := newMetricsHandler(fakeCounter{}, events.NewService(newTestLogger()), fakeTasks{})

	cfg := testConfig()
	e := newEcho(newHandler(fakePinger{}, cfg), m)
	rec := get(e, "/debug")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "test", body["environment"])
	assert.Contains(t, body, "host")
	assert.NotContains(t, body, "database")

	cfg.Environment = "production"
	assert.Equal(t, http.StatusNotFound, get(e, "/debug").Code)
}

func TestJobMetrics(t *testing.T) {
	h := newHandler(fakePinger{}, testConfig())
	counts := map[jobstore.Status]int64{
		jobstore.StatusCompleted: 7,
		jobstore.StatusFailed:    2,
		jobstore.StatusResolving: 1,
	}

	t.Run("in-process bus", func(t *testing.T) {
		e := newEcho(h, newMetricsHandler(fakeCounter{counts: counts}, events.NewService(newTestLogger()), fakeTasks{}))
		rec := get(e, "/api/metrics/jobs")
		require.Equal(t, http.StatusOK, rec.Code)

		var body JobMetricsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, int64(10), body.Total)
		assert.Equal(t, int64(7), body.Jobs[jobstore.StatusCompleted])
		assert.Nil(t, body.Outbox)
	})

	t.Run("outbox bus", func(t *testing.T) {
		bus := &outboxBus{Service: events.NewService(newTestLogger()), stats: jobs.Stats{Pending: 3, Failed: 1}}
		e := newEcho(h, newMetricsHandler(fakeCounter{counts: counts}, bus, fakeTasks{}))
		rec := get(e, "/api/metrics/jobs")
		require.Equal(t, http.StatusOK, rec.Code)

		var body JobMetricsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NotNil(t, body.Outbox)
		assert.Equal(t, int64(3), body.Outbox.Pending)
		assert.Equal(t, int64(1), body.Outbox.Failed)
	})

	t.Run("database error", func(t *testing.T) {
		counter := fakeCounter{err: apperror.NewDatabase("count jobs", errors.New("timeout"))}
		e := newEcho(h, newMetricsHandler(counter, events.NewService(newTestLogger()), fakeTasks{}))
		assert.Equal(t, http.StatusInternalServerError, get(e, "/api/metrics/jobs").Code)
	})
}

func TestSchedulerMetrics(t *testing.T) {
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tasks := fakeTasks{info: []scheduler.TaskInfo{
		{Name: scheduler.TaskSweepStalled, Schedule: "@every 1m0s", NextRun: next},
	}}
	e := newEcho(newHandler(fakePinger{}, testConfig()), newMetricsHandler(fakeCounter{}, events.NewService(newTestLogger()), tasks))

	rec := get(e, "/api/metrics/scheduler")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SchedulerMetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Running)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, scheduler.TaskSweepStalled, body.Tasks[0].Name)
	assert.True(t, next.Equal(body.Tasks[0].NextRun))
}
