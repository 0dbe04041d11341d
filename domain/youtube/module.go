package youtube

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
)

// Module provides the YouTube Data API client.
var Module = fx.Module("youtube",
	fx.Provide(func(cfg *config.Config, log *slog.Logger) (*Client, error) {
		return NewClient(context.Background(), cfg.YouTube, log)
	}),
)
