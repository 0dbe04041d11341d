package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// MailgunSender sends plain-text email through the Mailgun messages API
type MailgunSender struct {
	cfg    *Config
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender returns nil when the domain, key or sender address is missing.
func NewMailgunSender(cfg *Config, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}

	client := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
	if cfg.MailgunAPIBase != "" {
		client.SetAPIBase(cfg.MailgunAPIBase)
	}

	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("email.mailgun")),
		client: client,
	}
}

// Send delivers opts. A rejected request (4xx other than 429) is a bad_request
// error; anything else is upstream_error.
func (s *MailgunSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	if opts.To == "" {
		return nil, apperror.NewBadRequest("recipient is required")
	}

	message, err := s.message(opts)
	if err != nil {
		return nil, apperror.ErrInternal.WithInternal(err)
	}

	log := s.log.With(
		slog.String("to", opts.To),
		slog.String("tag", opts.Tag),
		slog.String("job_id", opts.JobID))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.sendTimeout())
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		if status, ok := rejected(err); ok {
			log.Warn("mailgun rejected email", slog.Int("status", status), logger.Error(err))
			return nil, apperror.ErrBadRequest.
				WithMessage(fmt.Sprintf("mailgun rejected the message (status %d)", status)).
				WithInternal(err)
		}
		log.Error("failed to send email", logger.Error(err))
		return nil, apperror.NewUpstream("mailgun", err)
	}

	log.Info("email sent", slog.String("message_id", messageID))
	return &SendResult{MessageID: messageID}, nil
}

func (s *MailgunSender) message(opts SendOptions) (*mailgun.Message, error) {
	m := s.client.NewMessage(s.from(), opts.Subject, opts.Text, opts.To)
	m.SetTracking(false)
	if opts.Tag != "" {
		if err := m.AddTag(opts.Tag); err != nil {
			return nil, fmt.Errorf("tag message: %w", err)
		}
	}
	if opts.JobID != "" {
		if err := m.AddVariable("job_id", opts.JobID); err != nil {
			return nil, fmt.Errorf("attach job id: %w", err)
		}
	}
	return m, nil
}

func (s *MailgunSender) from() string {
	if s.cfg.FromName == "" {
		return s.cfg.FromEmail
	}
	return fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)
}

// rejected reports whether Mailgun refused the request itself.
func rejected(err error) (int, bool) {
	var ure *mailgun.UnexpectedResponseError
	if !errors.As(err, &ure) {
		return 0, false
	}
	if ure.Actual >= 400 && ure.Actual < 500 && ure.Actual != http.StatusTooManyRequests {
		return ure.Actual, true
	}
	return ure.Actual, false
}
