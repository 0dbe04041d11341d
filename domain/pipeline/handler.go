package pipeline

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

// JobStatus is the public view of a job. Anyone holding the job id can read
// it, so it leaves out the recipient address and delivery ids.
type JobStatus struct {
	JobID           string                      `json:"jobId"`
	Status          jobstore.Status             `json:"status"`
	RawChannelInput string                      `json:"rawChannelInput"`
	ChannelID       *string                     `json:"channelId,omitempty"`
	ChannelName     *string                     `json:"channelName,omitempty"`
	Videos          []jobstore.VideoRef         `json:"videos"`
	ImprovedTitles  []jobstore.TitleImprovement `json:"improvedTitles"`
	Error           *string                     `json:"error,omitempty"`
	FailedStage     *jobstore.Stage             `json:"failedStage,omitempty"`
	Notified        bool                        `json:"notified"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
	CompletedAt     *time.Time                  `json:"completedAt,omitempty"`
}

// NewJobStatus builds the public view of rec.
func NewJobStatus(rec *jobstore.JobRecord) JobStatus {
	return JobStatus{
		JobID:           rec.JobID,
		Status:          rec.Status,
		RawChannelInput: rec.RawChannelInput,
		ChannelID:       rec.ChannelID,
		ChannelName:     rec.ChannelName,
		Videos:          rec.Videos,
		ImprovedTitles:  rec.ImprovedTitles,
		Error:           rec.Error,
		FailedStage:     rec.FailedStage,
		Notified:        rec.Notification != nil && rec.Notification.SentAt != nil,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		CompletedAt:     rec.CompletedAt,
	}
}

// Handler handles HTTP requests for submissions and job status
type Handler struct {
	svc *Service
}

// NewHandler creates a new pipeline handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit accepts a channel and email and queues a title-improvement job
// @Summary      Submit a channel
// @Description  Queues a job that resolves the channel, improves its five most recent video titles and emails the report. The response only acknowledges the job.
// @Tags         pipeline
// @Accept       json
// @Produce      json
// @Param        request body SubmitRequest true "Channel handle, id or name and the recipient email"
// @Success      202 {object} SubmitResult "Job accepted"
// @Failure      400 {object} apperror.Error "Missing channel or invalid email"
// @Failure      500 {object} apperror.Error "Job could not be stored or queued"
// @Router       /submit [post]
func (h *Handler) Submit(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body").WithInternal(err)
	}

	res, err := h.svc.Submit(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, res)
}

// GetJob returns the current state of a job
// @Summary      Get job status
// @Tags         pipeline
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} JobStatus "Job status"
// @Failure      404 {object} apperror.Error "Job not found"
// @Router       /jobs/{jobId} [get]
func (h *Handler) GetJob(c echo.Context) error {
	jobID := c.Param("jobId")
	if jobID == "" {
		return apperror.ErrBadRequest.WithMessage("jobId is required")
	}

	rec, err := h.svc.Job(c.Request().Context(), jobID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, NewJobStatus(rec))
}

// GetReport streams the archived plain-text report of a completed job
// @Summary      Download job report
// @Tags         pipeline
// @Produce      plain
// @Param        jobId path string true "Job ID"
// @Success      200 {string} string "Report text"
// @Failure      404 {object} apperror.Error "Job or report not found"
// @Failure      503 {object} apperror.Error "Report storage is not configured"
// @Router       /jobs/{jobId}/report [get]
func (h *Handler) GetReport(c echo.Context) error {
	jobID := c.Param("jobId")
	if jobID == "" {
		return apperror.ErrBadRequest.WithMessage("jobId is required")
	}

	body, err := h.svc.Report(c.Request().Context(), jobID)
	if err != nil {
		return err
	}
	defer body.Close()

	return c.Stream(http.StatusOK, echo.MIMETextPlainCharsetUTF8, body)
}
