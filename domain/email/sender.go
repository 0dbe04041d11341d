package email

import (
	"context"
	"log/slog"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// Message tags.
const (
	TagReport  = "title-report"
	TagFailure = "failure-notice"
)

// Sender delivers one plain-text email
type Sender interface {
	Send(ctx context.Context, opts SendOptions) (*SendResult, error)
}

// SendOptions describes a single message
type SendOptions struct {
	To      string
	Subject string
	Text    string

	// Tag groups messages in the provider's analytics (TagReport, TagFailure)
	Tag string
	// JobID is attached as message metadata for support lookups
	JobID string
}

// SendResult contains the result of a successful send
type SendResult struct {
	MessageID string
}

// NewSender creates the appropriate email sender based on configuration.
//
//   - disabled: a logging no-op sender
//   - enabled but not configured: every send fails with not_configured
//   - enabled and configured: Mailgun
func NewSender(log *slog.Logger, cfg *Config) Sender {
	if !cfg.Enabled {
		log.Info("using no-op email sender (EMAIL_ENABLED=false)")
		return &noOpSender{log: log.With(logger.Scope("email.noop"))}
	}

	if mailgunSender := NewMailgunSender(cfg, log); mailgunSender != nil {
		log.Info("using Mailgun sender",
			slog.String("domain", cfg.MailgunDomain),
			slog.String("from", cfg.FromEmail))
		return mailgunSender
	}

	log.Warn("email enabled but Mailgun is not configured, sends will fail")
	return unconfiguredSender{}
}

// noOpSender logs instead of sending
type noOpSender struct {
	log *slog.Logger
}

func (s *noOpSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	s.log.Info("email send (no-op)",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject),
		slog.String("tag", opts.Tag),
		slog.String("job_id", opts.JobID))

	return &SendResult{MessageID: "noop-" + opts.JobID}, nil
}

type unconfiguredSender struct{}

func (unconfiguredSender) Send(context.Context, SendOptions) (*SendResult, error) {
	return nil, apperror.NewNotConfigured("MAILGUN_API_KEY")
}
