package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/tracing"
)

// NotifyFailure sends the generic failure email for a failed job, at most
// once per job. The claim is taken before sending, so a crash between claim
// and send loses the notification rather than duplicating it.
// Errors after the claim are logged only.
func (s *Service) NotifyFailure(ctx context.Context, msg events.StageFailed) error {
	ctx, span := tracing.Start(ctx, "pipeline.notify_failure",
		tracing.JobIDKey.String(msg.JobID),
		tracing.StageKey.String(string(msg.Stage)),
	)
	defer span.End()

	log := s.log.With(logger.Scope("pipeline.notify"),
		slog.String("job_id", msg.JobID),
		slog.String("stage", string(msg.Stage)))

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.NotificationClaim{}); err != nil {
		switch {
		case errors.Is(err, jobstore.ErrAlreadyClaimed):
			FailureNotifications.WithLabelValues("duplicate").Inc()
			log.Info("failure already notified, dropping delivery")
			return nil
		case errors.Is(err, jobstore.ErrInvalidUpdate), errors.Is(err, apperror.ErrNotFound):
			log.Warn("cannot claim failure notification", logger.Error(err))
			return nil
		}
		log.Error("failed to claim failure notification", logger.Error(err))
		tracing.Fail(span, err)
		return err
	}

	emailID, sendErr := s.sendFailureEmail(ctx, msg.JobID, msg.Email)
	if sendErr != nil {
		FailureNotifications.WithLabelValues("send_failed").Inc()
		log.Error("failure notification not delivered",
			slog.String("cause", msg.Error),
			logger.Error(sendErr))
		tracing.Fail(span, sendErr)
	} else {
		FailureNotifications.WithLabelValues("sent").Inc()
		log.Info("failure notification sent",
			slog.String("cause", msg.Error),
			slog.String("email_id", emailID))
	}

	if _, err := s.store.Apply(ctx, msg.JobID, jobstore.NotificationResult{EmailID: emailID, Err: sendErr}); err != nil {
		log.Error("failed to record notification result", logger.Error(err))
	}

	notified := events.FailureNotified{JobID: msg.JobID, EmailID: emailID}
	if sendErr != nil {
		notified.Error = apperror.Message(sendErr)
	}
	if err := s.bus.Publish(ctx, notified); err != nil {
		log.Error("failed to publish failure-notified event", logger.Error(err))
	}
	return nil
}

func (s *Service) sendFailureEmail(ctx context.Context, jobID, to string) (string, error) {
	notice, err := s.renderer.Failure()
	if err != nil {
		return "", err
	}
	res, err := s.sender.Send(ctx, email.SendOptions{
		To:      to,
		Subject: notice.Subject,
		Text:    notice.Text,
		Tag:     email.TagFailure,
		JobID:   jobID,
	})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// SweepStalled fails jobs that have sat in a non-terminal status for longer
// than the stall timeout and escalates those stuck before the email stage.
// It then re-publishes the failure event of failed jobs that were never
// notified, which covers a failure event lost after the Failed write.
// It returns how many jobs it failed.
func (s *Service) SweepStalled(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.StallTimeout)
	stalled, err := s.store.ListStalled(ctx, cutoff, s.opts.SweepBatch)
	if err != nil {
		return 0, err
	}

	log := s.log.With(logger.Scope("pipeline.sweep"))
	failed := 0
	escalated := make(map[string]bool)
	for _, rec := range stalled {
		stage, ok := sweepStage(rec.Status)
		if !ok {
			continue
		}
		reason := "job stalled in " + string(rec.Status)

		if _, err := s.store.Apply(ctx, rec.JobID, jobstore.Failed{Stage: stage, Reason: reason}); err != nil {
			if errors.Is(err, jobstore.ErrStaleTransition) {
				continue
			}
			return failed, err
		}

		failed++
		StalledJobs.Inc()
		StageOutcomes.WithLabelValues(string(stage), outcomeFailure).Inc()
		log.Warn("stalled job failed",
			slog.String("job_id", rec.JobID),
			slog.String("status", string(rec.Status)),
			slog.Duration("idle", s.now().Sub(rec.UpdatedAt).Round(time.Second)))

		if s.escalate(ctx, stage, rec.JobID, rec.Email, reason, log) == nil {
			escalated[rec.JobID] = true
		}
	}

	if err := s.renotify(ctx, cutoff, escalated, log); err != nil {
		return failed, err
	}
	return failed, nil
}

// renotify re-publishes the failure event of failed jobs that never got a
// notification claim, skipping jobs escalated earlier in the same sweep.
// NotifyFailure's claim keeps the email single even when the original event
// is still in flight.
func (s *Service) renotify(ctx context.Context, cutoff time.Time, skip map[string]bool, log *slog.Logger) error {
	orphans, err := s.store.ListUnnotified(ctx, cutoff, s.opts.SweepBatch)
	if err != nil {
		return err
	}
	for _, rec := range orphans {
		if skip[rec.JobID] {
			continue
		}
		reason := ""
		if rec.Error != nil {
			reason = *rec.Error
		}
		if err := s.escalate(ctx, *rec.FailedStage, rec.JobID, rec.Email, reason, log); err != nil {
			continue
		}
		RepublishedFailures.Inc()
		log.Warn("failure event re-published",
			slog.String("job_id", rec.JobID),
			slog.String("stage", string(*rec.FailedStage)))
	}
	return nil
}

// sweepStage is the stage charged with a stall in status. A job parked in
// titles_generated lost the hand-off to the email stage, which never ran, so
// the stall is charged to the generate stage and escalated. A stall in
// email_sending stays with the email stage because delivery is unknown.
func sweepStage(status jobstore.Status) (jobstore.Stage, bool) {
	if status == jobstore.StatusTitlesGenerated {
		return jobstore.StageGenerate, true
	}
	return jobstore.StageOf(status)
}
