// Package main provides the entry point for the YouTube Title Doctor API server
//
// @title YouTube Title Doctor API
// @version 0.1.0
// @description Accepts a YouTube channel and an email address, rewrites the channel's recent video titles with an LLM, and emails the suggestions.
// @host localhost:3000
// @BasePath /
// @schemes http https
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/health"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/pipeline"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/scheduler"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/titles"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/tracing"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/youtube"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/database"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/migrate"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/server"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/storage"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,
		storage.Module,
		tracing.Module,

		// External services
		youtube.Module,
		titles.Module,
		email.Module,

		// Pipeline: job records, event transport, stage handlers
		jobstore.Module,
		events.Module,
		pipeline.Module,

		// Stall sweep and outbox maintenance
		scheduler.Module,

		health.Module,
	).Run()
}
