// Package logger provides the structured logger shared by every module.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides *slog.Logger, *HTTPLogger and *zap.Logger.
var Module = fx.Module("logger",
	fx.Provide(
		NewLogger,
		NewHTTPLoggerFromEnv,
		NewZapLogger,
	),
	fx.Invoke(registerHTTPLoggerLifecycle),
)

// NewLogger creates the application logger.
// LOG_LEVEL selects the level (debug, info, warn, error; default info).
// GO_ENV=production switches to JSON output.
func NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Scope returns the attribute used to tag a component's log lines.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error returns an attribute carrying err.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewZapLogger creates the zap logger used by the migration tooling.
func NewZapLogger() (*zap.Logger, error) {
	if os.Getenv("GO_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// HTTPLogger appends one access-log line per request to a file.
// A zero-value or nil HTTPLogger discards everything.
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewHTTPLogger opens (or creates) path for appending.
func NewHTTPLogger(path string) (*HTTPLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open http log: %w", err)
	}
	return &HTTPLogger{file: f}, nil
}

// NewHTTPLoggerFromEnv opens HTTP_LOG_PATH when set and returns a no-op logger otherwise.
func NewHTTPLoggerFromEnv(log *slog.Logger) *HTTPLogger {
	path := os.Getenv("HTTP_LOG_PATH")
	if path == "" {
		return &HTTPLogger{}
	}

	hl, err := NewHTTPLogger(path)
	if err != nil {
		log.Warn("http access log disabled", slog.String("path", path), Error(err))
		return &HTTPLogger{}
	}
	return hl
}

// LogRequest writes a single access-log line.
func (l *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if l == nil || l.file == nil {
		return
	}

	line := fmt.Sprintf("%s %s %s %s %d %s %q %s\n",
		time.Now().UTC().Format(time.RFC3339), ip, method, uri, status, latency, userAgent, requestID)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.file.WriteString(line)
}

// Close closes the underlying file.
func (l *HTTPLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func registerHTTPLoggerLifecycle(lc fx.Lifecycle, hl *HTTPLogger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return hl.Close()
		},
	})
}
