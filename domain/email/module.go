package email

import (
	"go.uber.org/fx"
)

// Module provides the email sender and templates
var Module = fx.Module("email",
	fx.Provide(
		NewConfig,
		NewTemplates,
		NewSender, // Uses Mailgun when enabled and configured, otherwise no-op
	),
)
