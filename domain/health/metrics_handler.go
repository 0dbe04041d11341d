package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/scheduler"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/jobs"
)

// TaskLister reports the scheduled tasks.
type TaskLister interface {
	GetTaskInfo() []scheduler.TaskInfo
	IsRunning() bool
}

// MetricsHandler handles pipeline and scheduler metrics requests
type MetricsHandler struct {
	jobs  jobstore.Counter
	bus   events.Bus
	tasks TaskLister
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(counter jobstore.Counter, bus events.Bus, sched *scheduler.Scheduler) *MetricsHandler {
	return newMetricsHandler(counter, bus, sched)
}

func newMetricsHandler(counter jobstore.Counter, bus events.Bus, tasks TaskLister) *MetricsHandler {
	return &MetricsHandler{jobs: counter, bus: bus, tasks: tasks}
}

// JobMetricsResponse reports job counts by status and, when the outbox
// transport is active, the delivery queue depth.
type JobMetricsResponse struct {
	Jobs      map[jobstore.Status]int64 `json:"jobs"`
	Total     int64                     `json:"total"`
	Outbox    *jobs.Stats               `json:"outbox,omitempty"`
	Timestamp string                    `json:"timestamp"`
}

// JobMetrics returns job counts by status
// @Summary      Job metrics
// @Description  Counts of pipeline jobs in each status, plus outbox queue depth when the PostgreSQL transport is used
// @Tags         health
// @Produce      json
// @Success      200 {object} JobMetricsResponse "Job metrics"
// @Failure      500 {object} apperror.Error "Database error"
// @Router       /api/metrics/jobs [get]
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}

	resp := JobMetricsResponse{
		Jobs:      counts,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, n := range counts {
		resp.Total += n
	}

	if m, ok := h.bus.(events.Maintainer); ok {
		stats, err := m.Stats(ctx)
		if err != nil {
			return err
		}
		resp.Outbox = stats
	}

	return c.JSON(http.StatusOK, resp)
}

// SchedulerMetricsResponse lists the scheduled tasks
type SchedulerMetricsResponse struct {
	Running bool                 `json:"running"`
	Tasks   []scheduler.TaskInfo `json:"tasks"`
}

// SchedulerMetrics returns metrics for scheduled tasks
// @Summary      Scheduler metrics
// @Tags         health
// @Produce      json
// @Success      200 {object} SchedulerMetricsResponse "Scheduled tasks"
// @Router       /api/metrics/scheduler [get]
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, SchedulerMetricsResponse{
		Running: h.tasks.IsRunning(),
		Tasks:   h.tasks.GetTaskInfo(),
	})
}
