package pipeline

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/email"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/events"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/titles"
	"github.com/ArpitGupta4957/yt-title-doctor/domain/youtube"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/storage"
)

// Module provides the pipeline service, subscribes its stages to the bus and
// registers the HTTP routes.
var Module = fx.Module("pipeline",
	fx.Provide(
		func(c *youtube.Client) ChannelResolver { return c },
		func(c *youtube.Client) VideoLister { return c },
		func(g *titles.Generator) TitleGenerator { return g },
		func(t *email.Templates) Renderer { return t },
		func(s *storage.Service) ReportArchive { return s },
	),
	fx.Provide(NewServiceFromConfig),
	fx.Provide(NewHandler),
	fx.Invoke(Subscribe),
	fx.Invoke(RegisterRoutes),
)

// RegisterRoutes registers the submission and job routes
func RegisterRoutes(e *echo.Echo, h *Handler) {
	// POST /submit - queue a new job
	e.POST("/submit", h.Submit)

	jobs := e.Group("/jobs")

	// GET /jobs/:jobId - job status
	jobs.GET("/:jobId", h.GetJob)

	// GET /jobs/:jobId/report - archived report of a completed job
	jobs.GET("/:jobId/report", h.GetReport)
}

// Subscribe routes every pipeline topic to its stage handler. Each failure
// topic gets NotifyFailure as its only subscriber.
func Subscribe(bus events.Bus, svc *Service) {
	bus.Subscribe(events.TopicSubmitted, handle(svc.ResolveChannel))
	bus.Subscribe(events.TopicChannelResolved, handle(svc.FetchVideos))
	bus.Subscribe(events.TopicVideosFetched, handle(svc.GenerateTitles))
	bus.Subscribe(events.TopicTitlesGenerated, handle(svc.SendResultEmail))
	for _, topic := range events.FailureTopics() {
		bus.Subscribe(topic, handle(svc.NotifyFailure))
	}
}

// handle adapts a typed stage handler to events.Handler.
func handle[T events.Message](fn func(context.Context, T) error) events.Handler {
	return func(ctx context.Context, msg events.Message) error {
		typed, ok := msg.(T)
		if !ok {
			return fmt.Errorf("unexpected message %T on %s", msg, msg.Topic())
		}
		return fn(ctx, typed)
	}
}
