package youtube

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeAPI struct {
	channels func(q map[string][]string) (int, any)
	search   func(q map[string][]string) (int, any)
	calls    atomic.Int32
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	var status int
	var body any
	switch r.URL.Path {
	case "/youtube/v3/channels":
		status, body = f.channels(r.URL.Query())
	case "/youtube/v3/search":
		status, body = f.search(r.URL.Query())
	default:
		status, body = http.StatusNotFound, map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), config.YouTubeConfig{
		APIKey:            "test-key",
		Endpoint:          srv.URL + "/",
		VideoLimit:        5,
		RequestsPerSecond: 1000,
		Timeout:           5 * time.Second,
	}, newTestLogger())
	require.NoError(t, err)
	return c
}

func emptyList(map[string][]string) (int, any) {
	return http.StatusOK, map[string]any{"items": []any{}}
}

func apiError(code int) func(map[string][]string) (int, any) {
	return func(map[string][]string) (int, any) {
		return code, map[string]any{"error": map[string]any{"code": code, "message": "quota exceeded"}}
	}
}

func TestResolve_Handle(t *testing.T) {
	api := &fakeAPI{
		channels: func(q map[string][]string) (int, any) {
			assert.Equal(t, "@creator", q["forHandle"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{"id": "UCaaaaaaaaaaaaaaaaaaaaaa", "snippet": map[string]any{"title": "Creator"}},
			}}
		},
		search: emptyList,
	}
	c := newTestClient(t, api)

	ch, err := c.Resolve(context.Background(), " @creator ")
	require.NoError(t, err)
	assert.Equal(t, Channel{ID: "UCaaaaaaaaaaaaaaaaaaaaaa", Name: "Creator"}, ch)
	assert.Equal(t, int32(1), api.calls.Load())
}

func TestResolve_HandleFallsBackToSearch(t *testing.T) {
	api := &fakeAPI{
		channels: emptyList,
		search: func(q map[string][]string) (int, any) {
			assert.Equal(t, "creator", q["q"][0])
			assert.Equal(t, "channel", q["type"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{
					"id":      map[string]any{"kind": "youtube#channel"},
					"snippet": map[string]any{"channelId": "UCbbbbbbbbbbbbbbbbbbbbbb", "channelTitle": "Tom &amp; Co"},
				},
			}}
		},
	}
	c := newTestClient(t, api)

	ch, err := c.Resolve(context.Background(), "@creator")
	require.NoError(t, err)
	assert.Equal(t, "UCbbbbbbbbbbbbbbbbbbbbbb", ch.ID)
	assert.Equal(t, "Tom & Co", ch.Name)
}

func TestResolve_ChannelID(t *testing.T) {
	api := &fakeAPI{
		channels: func(q map[string][]string) (int, any) {
			assert.Equal(t, "UCcccccccccccccccccccccc", q["id"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{"id": "UCcccccccccccccccccccccc", "snippet": map[string]any{"title": "By Id"}},
			}}
		},
		search: emptyList,
	}
	c := newTestClient(t, api)

	ch, err := c.Resolve(context.Background(), "UCcccccccccccccccccccccc")
	require.NoError(t, err)
	assert.Equal(t, "By Id", ch.Name)
}

func TestResolve_NameSearch(t *testing.T) {
	api := &fakeAPI{
		channels: emptyList,
		search: func(q map[string][]string) (int, any) {
			assert.Equal(t, "Some Creator", q["q"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{
					"id":      map[string]any{"channelId": "UCdddddddddddddddddddddd"},
					"snippet": map[string]any{"channelTitle": "Some Creator"},
				},
			}}
		},
	}
	c := newTestClient(t, api)

	ch, err := c.Resolve(context.Background(), "Some Creator")
	require.NoError(t, err)
	assert.Equal(t, Channel{ID: "UCdddddddddddddddddddddd", Name: "Some Creator"}, ch)
}

func TestResolve_NotFound(t *testing.T) {
	c := newTestClient(t, &fakeAPI{channels: emptyList, search: emptyList})

	_, err := c.Resolve(context.Background(), "nobody at all")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "channel not found", apperror.Message(err))
}

func TestResolve_UpstreamError(t *testing.T) {
	c := newTestClient(t, &fakeAPI{channels: apiError(http.StatusForbidden), search: apiError(http.StatusForbidden)})

	_, err := c.Resolve(context.Background(), "@creator")
	assert.ErrorIs(t, err, apperror.ErrUpstream)
}

func TestResolve_NotConfigured(t *testing.T) {
	c, err := NewClient(context.Background(), config.YouTubeConfig{}, newTestLogger())
	require.NoError(t, err)
	assert.False(t, c.IsConfigured())

	_, err = c.Resolve(context.Background(), "@creator")
	assert.ErrorIs(t, err, apperror.ErrNotConfigured)

	_, err = c.ListRecent(context.Background(), "UC1", 5)
	assert.ErrorIs(t, err, apperror.ErrNotConfigured)
}

func TestResolve_EmptyQuery(t *testing.T) {
	c := newTestClient(t, &fakeAPI{channels: emptyList, search: emptyList})

	_, err := c.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, apperror.ErrBadRequest)
}

func TestListRecent(t *testing.T) {
	api := &fakeAPI{
		channels: emptyList,
		search: func(q map[string][]string) (int, any) {
			assert.Equal(t, "UC1", q["channelId"][0])
			assert.Equal(t, "date", q["order"][0])
			assert.Equal(t, "video", q["type"][0])
			assert.Equal(t, "2", q["maxResults"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{
					"id": map[string]any{"videoId": "v1"},
					"snippet": map[string]any{
						"title":       "I tried &quot;this&quot;",
						"publishedAt": "2025-03-01T10:00:00Z",
						"thumbnails": map[string]any{
							"default": map[string]any{"url": "https://i.ytimg.com/v1/default.jpg"},
							"high":    map[string]any{"url": "https://i.ytimg.com/v1/hq.jpg"},
						},
					},
				},
				map[string]any{"id": map[string]any{"channelId": "skip-me"}, "snippet": map[string]any{"title": "x"}},
				map[string]any{
					"id":      map[string]any{"videoId": "v2"},
					"snippet": map[string]any{"title": "Second", "publishedAt": "2025-02-01T10:00:00Z"},
				},
			}}
		},
	}
	c := newTestClient(t, api)

	videos, err := c.ListRecent(context.Background(), "UC1", 2)
	require.NoError(t, err)
	require.Len(t, videos, 2)

	assert.Equal(t, "v1", videos[0].VideoID)
	assert.Equal(t, `I tried "this"`, videos[0].Title)
	assert.Equal(t, "https://www.youtube.com/watch?v=v1", videos[0].URL)
	assert.Equal(t, "https://i.ytimg.com/v1/hq.jpg", videos[0].Thumbnail)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), videos[0].PublishedAt)
	assert.Equal(t, "v2", videos[1].VideoID)
	assert.Empty(t, videos[1].Thumbnail)
}

func TestListRecent_LimitIsCapped(t *testing.T) {
	api := &fakeAPI{
		channels: emptyList,
		search: func(q map[string][]string) (int, any) {
			assert.Equal(t, "5", q["maxResults"][0])
			return http.StatusOK, map[string]any{"items": []any{
				map[string]any{"id": map[string]any{"videoId": "v1"}, "snippet": map[string]any{"title": "one"}},
			}}
		},
	}
	c := newTestClient(t, api)

	videos, err := c.ListRecent(context.Background(), "UC1", 50)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestListRecent_NoVideos(t *testing.T) {
	c := newTestClient(t, &fakeAPI{channels: emptyList, search: emptyList})

	_, err := c.ListRecent(context.Background(), "UC1", 5)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Equal(t, "no videos found", apperror.Message(err))
}

func TestListRecent_APIErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want *apperror.Error
	}{
		{"not found", http.StatusNotFound, apperror.ErrNotFound},
		{"quota", http.StatusForbidden, apperror.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{channels: emptyList, search: apiError(tt.code)})

			_, err := c.ListRecent(context.Background(), "UC1", 5)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
