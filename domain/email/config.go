package email

import (
	"time"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
)

// Config contains email service configuration
type Config struct {
	// Enabled determines if email is actually delivered
	Enabled bool
	// MailgunDomain is the Mailgun domain
	MailgunDomain string
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string
	// MailgunAPIBase overrides the Mailgun API base URL
	MailgunAPIBase string
	// FromEmail is the verified sender address
	FromEmail string
	// FromName is the sender display name
	FromName string
	// SendTimeout bounds a single send (default: 30s)
	SendTimeout time.Duration
}

// NewConfig creates email configuration from the app config
func NewConfig(cfg *config.Config) *Config {
	return &Config{
		Enabled:        cfg.Email.Enabled,
		MailgunDomain:  cfg.Email.MailgunDomain,
		MailgunAPIKey:  cfg.Email.MailgunAPIKey,
		MailgunAPIBase: cfg.Email.MailgunAPIBase,
		FromEmail:      cfg.Email.FromEmail,
		FromName:       cfg.Email.FromName,
		SendTimeout:    cfg.Email.SendTimeout,
	}
}

// IsConfigured returns true if Mailgun and the sender address are configured
func (c *Config) IsConfigured() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != "" && c.FromEmail != ""
}

// sendTimeout returns the configured timeout or the 30s default
func (c *Config) sendTimeout() time.Duration {
	if c.SendTimeout <= 0 {
		return 30 * time.Second
	}
	return c.SendTimeout
}
