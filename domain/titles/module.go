package titles

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/llm"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/llm/gemini"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// Module provides the Gemini-backed title generator.
var Module = fx.Module("titles",
	fx.Provide(
		newProvider,
		NewGenerator,
	),
)

func newProvider(cfg *config.Config, log *slog.Logger) (llm.Provider, error) {
	if cfg.LLM.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY not set, title generation will fail")
	}
	return gemini.NewClient(context.Background(), gemini.Config{
		APIKey:          cfg.LLM.GeminiAPIKey,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         cfg.LLM.Timeout,
	},
		gemini.WithMaxRetries(cfg.LLM.MaxRetries),
		gemini.WithLogger(log.With(logger.Scope("gemini"))),
	)
}
