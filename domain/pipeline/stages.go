package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/titles"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/tracing"
)

// ChannelNotFound is the stored failure reason for every resolution failure
// except a missing API key.
const ChannelNotFound = "channel not found"

// NoVideosFound is the stored failure reason when a channel has no uploads.
const NoVideosFound = "no videos found"

// stageRun carries the per-delivery span, timer and logger of one stage.
type stageRun struct {
	stage jobstore.Stage
	jobID string
	email string
	span  trace.Span
	timer *prometheus.Timer
	log   *slog.Logger
}

func (s *Service) begin(ctx context.Context, stage jobstore.Stage, jobID, to string) (context.Context, *stageRun) {
	ctx, span := tracing.StartStage(ctx, string(stage), jobID)
	return ctx, &stageRun{
		stage: stage,
		jobID: jobID,
		email: to,
		span:  span,
		timer: prometheus.NewTimer(StageDuration.WithLabelValues(string(stage))),
		log:   s.log.With(logger.Scope("pipeline."+string(stage)), slog.String("job_id", jobID)),
	}
}

func (r *stageRun) end() {
	r.timer.ObserveDuration()
	r.span.End()
}

func (r *stageRun) outcome(o string) {
	StageOutcomes.WithLabelValues(string(r.stage), o).Inc()
}

// ResolveChannel turns the raw channel input into a channel id and name.
func (s *Service) ResolveChannel(ctx context.Context, msg events.Submitted) error {
	ctx, run := s.begin(ctx, jobstore.StageResolve, msg.JobID, msg.Email)
	defer run.end()

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.Resolving{}); err != nil {
		return s.applyError(ctx, run, err)
	}

	ch, err := s.resolver.Resolve(ctx, msg.RawChannelInput)
	if err != nil {
		reason := ChannelNotFound
		if errors.Is(err, apperror.ErrNotConfigured) {
			reason = apperror.Message(err)
		}
		run.log.Warn("channel resolution failed",
			slog.String("input", msg.RawChannelInput),
			logger.Error(err))
		tracing.Fail(run.span, err)
		return s.fail(ctx, run, reason)
	}

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.Resolved{ChannelID: ch.ID, ChannelName: ch.Name}); err != nil {
		return s.applyError(ctx, run, err)
	}

	run.log.Info("channel resolved",
		slog.String("channel_id", ch.ID),
		slog.String("channel_name", ch.Name))

	return s.forward(ctx, run, events.ChannelResolved{
		JobID:       msg.JobID,
		Email:       msg.Email,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
	})
}

// FetchVideos lists the most recent uploads of the resolved channel.
func (s *Service) FetchVideos(ctx context.Context, msg events.ChannelResolved) error {
	ctx, run := s.begin(ctx, jobstore.StageFetch, msg.JobID, msg.Email)
	defer run.end()

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.VideosFetching{}); err != nil {
		return s.applyError(ctx, run, err)
	}

	videos, err := s.lister.ListRecent(ctx, msg.ChannelID, s.opts.VideoLimit)
	if err == nil && len(videos) == 0 {
		err = apperror.ErrNotFound.WithMessage(NoVideosFound)
	}
	if err != nil {
		reason := apperror.Message(err)
		if errors.Is(err, apperror.ErrNotFound) {
			reason = NoVideosFound
		}
		run.log.Warn("video listing failed",
			slog.String("channel_id", msg.ChannelID),
			logger.Error(err))
		tracing.Fail(run.span, err)
		return s.fail(ctx, run, reason)
	}
	if len(videos) > s.opts.VideoLimit {
		videos = videos[:s.opts.VideoLimit]
	}

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.VideosFetched{Videos: videos}); err != nil {
		return s.applyError(ctx, run, err)
	}

	run.log.Info("videos fetched", slog.Int("count", len(videos)))

	return s.forward(ctx, run, events.VideosFetched{
		JobID:       msg.JobID,
		ChannelName: msg.ChannelName,
		Email:       msg.Email,
		Videos:      videos,
	})
}

// GenerateTitles asks the generator for one improved title per stored video.
// URLs are always taken from the stored videos, never from the generator.
func (s *Service) GenerateTitles(ctx context.Context, msg events.VideosFetched) error {
	ctx, run := s.begin(ctx, jobstore.StageGenerate, msg.JobID, msg.Email)
	defer run.end()

	rec, err := s.store.Apply(ctx, msg.JobID, jobstore.TitlesGenerating{})
	if err != nil {
		return s.applyError(ctx, run, err)
	}
	videos := rec.Videos

	suggestions, err := s.generator.Generate(ctx, msg.ChannelName, titles.Titles(videos))
	if err == nil {
		var improved []jobstore.TitleImprovement
		improved, err = titles.Attach(videos, suggestions)
		if err == nil {
			return s.storeTitles(ctx, run, msg, improved)
		}
	}

	run.log.Warn("title generation failed",
		slog.Int("videos", len(videos)),
		logger.Error(err))
	tracing.Fail(run.span, err)
	return s.fail(ctx, run, apperror.Message(err))
}

func (s *Service) storeTitles(ctx context.Context, run *stageRun, msg events.VideosFetched, improved []jobstore.TitleImprovement) error {
	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.TitlesGenerated{ImprovedTitles: improved}); err != nil {
		return s.applyError(ctx, run, err)
	}

	run.log.Info("titles generated", slog.Int("count", len(improved)))

	return s.forward(ctx, run, events.TitlesGenerated{
		JobID:          msg.JobID,
		ChannelName:    msg.ChannelName,
		Email:          msg.Email,
		ImprovedTitles: improved,
	})
}

// SendResultEmail renders and delivers the report. Its failure is terminal
// and is not escalated to NotifyFailure.
func (s *Service) SendResultEmail(ctx context.Context, msg events.TitlesGenerated) error {
	ctx, run := s.begin(ctx, jobstore.StageEmail, msg.JobID, msg.Email)
	defer run.end()

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.EmailSending{}); err != nil {
		return s.applyError(ctx, run, err)
	}

	report, err := s.renderer.Report(msg.ChannelName, msg.ImprovedTitles)
	if err != nil {
		run.log.Error("failed to render report", logger.Error(err))
		tracing.Fail(run.span, err)
		return s.fail(ctx, run, "failed to render report")
	}

	res, err := s.sender.Send(ctx, email.SendOptions{
		To:      msg.Email,
		Subject: report.Subject,
		Text:    report.Text,
		Tag:     email.TagReport,
		JobID:   msg.JobID,
	})
	if err != nil {
		run.log.Error("result email failed", logger.Error(err))
		tracing.Fail(run.span, err)
		return s.fail(ctx, run, apperror.Message(err))
	}

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.Completed{EmailID: res.MessageID}); err != nil {
		return s.applyError(ctx, run, err)
	}

	run.log.Info("result email sent", slog.String("email_id", res.MessageID))
	s.archiveReport(ctx, run, report.Text)

	return s.forward(ctx, run, events.EmailSent{
		JobID:   msg.JobID,
		Email:   msg.Email,
		EmailID: res.MessageID,
	})
}

func (s *Service) archiveReport(ctx context.Context, run *stageRun, text string) {
	if s.archive == nil || !s.archive.Enabled() {
		return
	}
	res, err := s.archive.ArchiveReport(ctx, run.jobID, text)
	if err != nil {
		run.log.Warn("failed to archive report", logger.Error(err))
		return
	}
	run.log.Debug("report archived", slog.String("key", res.Key))
}

// forward publishes the next stage's event. The record has already advanced,
// so a lost publish leaves the job for the stall sweep.
func (s *Service) forward(ctx context.Context, run *stageRun, next events.Message) error {
	if err := s.bus.Publish(ctx, next); err != nil {
		run.outcome(outcomeError)
		run.log.Error("failed to publish next stage",
			slog.String("topic", string(next.Topic())),
			logger.Error(err))
		tracing.Fail(run.span, err)
		return err
	}
	run.outcome(outcomeSuccess)
	return nil
}

// applyError classifies a failed store write:
//   - a stale transition is a duplicate delivery and is dropped
//   - a missing job is dropped
//   - an invalid stage result fails the job
//   - anything else goes back to the transport for redelivery
func (s *Service) applyError(ctx context.Context, run *stageRun, err error) error {
	switch {
	case errors.Is(err, jobstore.ErrStaleTransition):
		run.outcome(outcomeStale)
		run.log.Info("dropping duplicate delivery", logger.Error(err))
		return nil
	case errors.Is(err, apperror.ErrNotFound):
		run.outcome(outcomeError)
		run.log.Warn("job not found, dropping delivery")
		return nil
	case errors.Is(err, jobstore.ErrInvalidUpdate):
		run.log.Error("stage produced an invalid result", logger.Error(err))
		tracing.Fail(run.span, err)
		return s.fail(ctx, run, "invalid "+string(run.stage)+" result")
	default:
		run.outcome(outcomeError)
		run.log.Error("job store write failed", logger.Error(err))
		tracing.Fail(run.span, err)
		return err
	}
}

// fail marks the job Failed and escalates resolve, fetch and generate
// failures to NotifyFailure.
func (s *Service) fail(ctx context.Context, run *stageRun, reason string) error {
	if _, err := s.store.Apply(ctx, run.jobID, jobstore.Failed{Stage: run.stage, Reason: reason}); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrStaleTransition):
			run.outcome(outcomeStale)
			run.log.Info("job already terminal, dropping failure", logger.Error(err))
			return nil
		case errors.Is(err, apperror.ErrNotFound):
			run.outcome(outcomeError)
			run.log.Warn("job not found, dropping failure")
			return nil
		}
		run.outcome(outcomeError)
		run.log.Error("failed to record stage failure", logger.Error(err))
		return err
	}

	run.outcome(outcomeFailure)
	run.log.Info("job failed", slog.String("reason", reason))
	// The job is already Failed, so a redelivery would be dropped as stale.
	// The sweep retries the escalation instead.
	_ = s.escalate(ctx, run.stage, run.jobID, run.email, reason, run.log)
	return nil
}

// escalate publishes the failure event for stages that notify the user. A
// lost publish is picked up again by SweepStalled through ListUnnotified.
func (s *Service) escalate(ctx context.Context, stage jobstore.Stage, jobID, to, reason string, log *slog.Logger) error {
	if !stage.Escalates() {
		return nil
	}
	msg, err := events.NewStageFailed(stage, jobID, to, reason)
	if err != nil {
		log.Error("cannot build failure event", logger.Error(err))
		return err
	}
	if err := s.bus.Publish(ctx, msg); err != nil {
		log.Error("failed to publish failure event",
			slog.String("topic", string(msg.Topic())),
			logger.Error(err))
		return err
	}
	return nil
}
