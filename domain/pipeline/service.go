// Package pipeline implements the title-improvement stages and wires them to
// the event bus.
//
// Each stage handler writes its progress through a jobstore.Update and then
// publishes the next event. A stage failure is terminal: the job is marked
// Failed and, for the resolve, fetch and generate stages, a failure event is
// published so NotifyFailure can email the user once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/storage"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// SubmittedMessage is returned with every accepted submission.
const SubmittedMessage = "Submission successful. You will soon receive an email with improved youtube names"

// Options tunes stage behaviour.
type Options struct {
	VideoLimit   int
	StallTimeout time.Duration
	SweepBatch   int
}

// Service owns the stage handlers and the submission entry point.
type Service struct {
	store     jobstore.Store
	bus       events.Bus
	resolver  ChannelResolver
	lister    VideoLister
	generator TitleGenerator
	sender    email.Sender
	renderer  Renderer
	archive   ReportArchive
	opts      Options
	log       *slog.Logger
	now       func() time.Time
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     jobstore.Store
	Bus       events.Bus
	Resolver  ChannelResolver
	Lister    VideoLister
	Generator TitleGenerator
	Sender    email.Sender
	Renderer  Renderer
	// Archive is optional.
	Archive ReportArchive
}

// NewService creates a Service.
func NewService(d Deps, opts Options, log *slog.Logger) *Service {
	if opts.VideoLimit <= 0 || opts.VideoLimit > jobstore.MaxVideos {
		opts.VideoLimit = jobstore.MaxVideos
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 15 * time.Minute
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = 100
	}
	return &Service{
		store:     d.Store,
		bus:       d.Bus,
		resolver:  d.Resolver,
		lister:    d.Lister,
		generator: d.Generator,
		sender:    d.Sender,
		renderer:  d.Renderer,
		archive:   d.Archive,
		opts:      opts,
		log:       log.With(logger.Scope("pipeline")),
		now:       time.Now,
	}
}

// ServiceParams are the fx dependencies of NewServiceFromConfig.
type ServiceParams struct {
	fx.In

	Cfg       *config.Config
	Log       *slog.Logger
	Store     jobstore.Store
	Bus       events.Bus
	Resolver  ChannelResolver
	Lister    VideoLister
	Generator TitleGenerator
	Sender    email.Sender
	Renderer  Renderer
	Archive   ReportArchive
}

// NewServiceFromConfig builds the Service from application config.
func NewServiceFromConfig(p ServiceParams) *Service {
	return NewService(Deps{
		Store:     p.Store,
		Bus:       p.Bus,
		Resolver:  p.Resolver,
		Lister:    p.Lister,
		Generator: p.Generator,
		Sender:    p.Sender,
		Renderer:  p.Renderer,
		Archive:   p.Archive,
	}, Options{
		VideoLimit:   p.Cfg.YouTube.VideoLimit,
		StallTimeout: p.Cfg.Pipeline.StallTimeout,
	}, p.Log)
}

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	Channel string `json:"channel"`
	Email   string `json:"email"`
}

// SubmitResult acknowledges an accepted submission.
type SubmitResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// Validate trims and checks the request.
func (r *SubmitRequest) Validate() error {
	r.Channel = strings.TrimSpace(r.Channel)
	r.Email = strings.TrimSpace(r.Email)

	if r.Channel == "" {
		return apperror.NewBadRequest("channel is required")
	}
	if r.Email == "" {
		return apperror.NewBadRequest("email is required")
	}
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != r.Email {
		return apperror.NewBadRequest("email is not a valid address")
	}
	return nil
}

// Submit validates req, persists a new job and publishes its first event.
// The record is always written before the event is published.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := req.Validate(); err != nil {
		Submissions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := s.now()
	jobID := NewJobID(now)
	log := s.log.With(slog.String("job_id", jobID))

	if err := s.store.Create(ctx, jobstore.NewJobRecord(jobID, req.Channel, req.Email, now)); err != nil {
		Submissions.WithLabelValues("error").Inc()
		log.Error("failed to create job", logger.Error(err))
		if errors.Is(err, apperror.ErrDatabase) {
			return nil, err
		}
		return nil, apperror.NewDatabase("create job", err)
	}

	msg := events.Submitted{JobID: jobID, RawChannelInput: req.Channel, Email: req.Email}
	if err := s.bus.Publish(ctx, msg); err != nil {
		Submissions.WithLabelValues("error").Inc()
		log.Error("failed to publish submission", logger.Error(err))
		if _, ferr := s.store.Apply(ctx, jobID, jobstore.Failed{Stage: jobstore.StageSubmit, Reason: "could not queue job"}); ferr != nil {
			log.Error("failed to mark unqueued job as failed", logger.Error(ferr))
		}
		return nil, apperror.NewInternal("failed to queue job", err)
	}

	Submissions.WithLabelValues("accepted").Inc()
	log.Info("job submitted", slog.String("channel", req.Channel))

	return &SubmitResult{Success: true, JobID: jobID, Message: SubmittedMessage}, nil
}

// Job returns the current record of a job.
func (s *Service) Job(ctx context.Context, jobID string) (*jobstore.JobRecord, error) {
	return s.store.Get(ctx, jobID)
}

// Report opens the archived report of a completed job.
func (s *Service) Report(ctx context.Context, jobID string) (io.ReadCloser, error) {
	if s.archive == nil || !s.archive.Enabled() {
		return nil, apperror.NewNotConfigured("REPORT_STORAGE_ENDPOINT")
	}
	rec, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != jobstore.StatusCompleted {
		return nil, apperror.NewNotFound("report", jobID)
	}
	return s.archive.Download(ctx, storage.ReportKey(jobID))
}

// NewJobID returns an id of the form job_<unix-millis>_<random>.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return fmt.Sprintf("job_%d_%s", now.UnixMilli(), suffix)
}
