package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/internal/config"
)

func newTestEcho() http.Handler {
	return NewEcho(EchoParams{
		Config: &config.Config{Environment: "test"},
		Log:    slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	})
}

func TestNewEcho_Metrics(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestEcho().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "titledoctor_build_info")
}

func TestNewEcho_ErrorFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestEcho().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope/", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"not_found","message":"Not Found"}}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}
