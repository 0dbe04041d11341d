// Package youtube resolves channels and lists their recent uploads through
// the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// channelIDPattern matches a literal channel id: "UC" followed by 22 id characters.
var channelIDPattern = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

const watchURL = "https://www.youtube.com/watch?v="

// Channel is a resolved channel.
type Channel struct {
	ID   string
	Name string
}

// Client talks to the YouTube Data API.
type Client struct {
	svc     *yt.Service
	limiter *rate.Limiter
	timeout time.Duration
	limit   int
	log     *slog.Logger
}

// NewClient creates a client. Without an API key the client is returned
// unconfigured and every call fails with a not_configured error.
func NewClient(ctx context.Context, cfg config.YouTubeConfig, log *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	limit := cfg.VideoLimit
	if limit <= 0 || limit > jobstore.MaxVideos {
		limit = jobstore.MaxVideos
	}

	c := &Client{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		timeout: cfg.Timeout,
		limit:   limit,
		log:     log.With(logger.Scope("youtube")),
	}

	if !cfg.IsConfigured() {
		c.log.Warn("YOUTUBE_API_KEY not set, channel lookups will fail")
		return c, nil
	}

	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating YouTube service: %w", err)
	}
	c.svc = svc
	return c, nil
}

// IsConfigured returns true when an API key was supplied.
func (c *Client) IsConfigured() bool {
	return c.svc != nil
}

// VideoLimit is the configured number of recent videos per channel.
func (c *Client) VideoLimit() int {
	return c.limit
}

// Resolve maps a handle ("@name"), literal channel id or free-text name to a channel.
func (c *Client) Resolve(ctx context.Context, query string) (Channel, error) {
	if !c.IsConfigured() {
		return Channel{}, apperror.NewNotConfigured("YOUTUBE_API_KEY")
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return Channel{}, apperror.NewBadRequest("channel query is empty")
	}

	switch {
	case strings.HasPrefix(query, "@"):
		ch, err := c.channelBy(ctx, func(call *yt.ChannelsListCall) *yt.ChannelsListCall {
			return call.ForHandle(query)
		})
		if err == nil || !errors.Is(err, apperror.ErrNotFound) {
			return ch, err
		}
		c.log.Debug("handle lookup empty, falling back to search", slog.String("handle", query))
		return c.searchChannel(ctx, strings.TrimPrefix(query, "@"))

	case channelIDPattern.MatchString(query):
		return c.channelBy(ctx, func(call *yt.ChannelsListCall) *yt.ChannelsListCall {
			return call.Id(query)
		})

	default:
		return c.searchChannel(ctx, query)
	}
}

func (c *Client) channelBy(ctx context.Context, filter func(*yt.ChannelsListCall) *yt.ChannelsListCall) (Channel, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return Channel{}, apperror.NewUpstream("youtube", err)
	}

	resp, err := filter(c.svc.Channels.List([]string{"snippet"})).Context(ctx).Do()
	if err != nil {
		return Channel{}, classify(err, "channel")
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return Channel{}, apperror.ErrNotFound.WithMessage("channel not found")
	}

	item := resp.Items[0]
	return Channel{ID: item.Id, Name: item.Snippet.Title}, nil
}

func (c *Client) searchChannel(ctx context.Context, q string) (Channel, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return Channel{}, apperror.NewUpstream("youtube", err)
	}

	resp, err := c.svc.Search.List([]string{"snippet"}).
		Q(q).
		Type("channel").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return Channel{}, classify(err, "channel")
	}

	for _, item := range resp.Items {
		if item.Snippet == nil {
			continue
		}
		id := item.Snippet.ChannelId
		if item.Id != nil && item.Id.ChannelId != "" {
			id = item.Id.ChannelId
		}
		if id == "" {
			continue
		}
		return Channel{ID: id, Name: html.UnescapeString(item.Snippet.ChannelTitle)}, nil
	}
	return Channel{}, apperror.ErrNotFound.WithMessage("channel not found")
}

// ListRecent returns up to limit uploads of channelID, newest first.
func (c *Client) ListRecent(ctx context.Context, channelID string, limit int) ([]jobstore.VideoRef, error) {
	if !c.IsConfigured() {
		return nil, apperror.NewNotConfigured("YOUTUBE_API_KEY")
	}
	if limit <= 0 || limit > c.limit {
		limit = c.limit
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperror.NewUpstream("youtube", err)
	}

	resp, err := c.svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Order("date").
		Type("video").
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(err, "videos")
	}

	videos := make([]jobstore.VideoRef, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		publishedAt, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		videos = append(videos, jobstore.VideoRef{
			VideoID:     item.Id.VideoId,
			Title:       html.UnescapeString(item.Snippet.Title),
			URL:         watchURL + item.Id.VideoId,
			PublishedAt: publishedAt.UTC(),
			Thumbnail:   bestThumbnail(item.Snippet.Thumbnails),
		})
		if len(videos) == limit {
			break
		}
	}

	if len(videos) == 0 {
		return nil, apperror.ErrNotFound.WithMessage("no videos found")
	}

	c.log.Debug("fetched recent videos",
		slog.String("channel_id", channelID),
		slog.Int("count", len(videos)))
	return videos, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func bestThumbnail(t *yt.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*yt.Thumbnail{t.Maxres, t.Standard, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// classify maps API failures onto the error taxonomy.
func classify(err error, what string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return apperror.ErrNotFound.WithMessage(what + " not found").WithInternal(err)
	}
	return apperror.NewUpstream("youtube", err)
}
