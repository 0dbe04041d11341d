// Package gemini provides a Gemini API completion client for JSON-mode prompts.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/llm"
)

const (
	// DefaultModel is the default completion model
	DefaultModel = "gemini-2.0-flash-lite"

	// DefaultMaxRetries is the default number of retries
	DefaultMaxRetries = 2

	// DefaultBaseDelay is the base delay for exponential backoff
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay is the maximum delay for exponential backoff
	DefaultMaxDelay = 10 * time.Second

	// DefaultTemperature is the default sampling temperature
	DefaultTemperature = 0.7

	// DefaultMaxOutputTokens is the default max output tokens
	DefaultMaxOutputTokens = 2048
)

// Config holds the configuration for the Gemini client
type Config struct {
	APIKey          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration

	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
}

// Client is a Gemini completion client. It implements llm.Provider.
type Client struct {
	client          *genai.Client
	model           string
	temperature     float64
	maxOutputTokens int
	timeout         time.Duration
	log             *slog.Logger

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the base delay for exponential backoff
func WithBaseDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithMaxDelay sets the maximum delay for exponential backoff
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithLogger sets the logger
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new Gemini client. An empty API key yields an
// unconfigured client whose Complete always fails.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}

	c := &Client{
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		timeout:         cfg.Timeout,
		log:             slog.Default(),
		maxRetries:      DefaultMaxRetries,
		baseDelay:       DefaultBaseDelay,
		maxDelay:        DefaultMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	if cfg.APIKey == "" {
		return c, nil
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	c.client = client
	return c, nil
}

// IsConfigured returns true if an API key was supplied
func (c *Client) IsConfigured() bool {
	return c.client != nil
}

// Model returns the model name
func (c *Client) Model() string {
	return c.model
}

// ErrNotConfigured is returned by Complete when no API key is set.
var ErrNotConfigured = errors.New("gemini: API key not configured")

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("gemini: empty response")

// Complete sends req and returns the model's JSON text response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(float32(c.temperature)),
		MaxOutputTokens:    int32(c.maxOutputTokens),
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: req.Schema,
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			c.log.Debug("retrying completion request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.generate(ctx, req.Prompt, config)
		if err == nil {
			return text, nil
		}

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
		c.log.Warn("completion request failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	return "", fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (c *Client) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}

	if resp.UsageMetadata != nil {
		c.log.Debug("completion usage",
			slog.String("model", c.model),
			slog.Int("prompt_tokens", int(resp.UsageMetadata.PromptTokenCount)),
			slog.Int("output_tokens", int(resp.UsageMetadata.CandidatesTokenCount)),
		)
	}
	return text, nil
}

// calculateBackoff calculates the backoff delay for a given attempt
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}

// isRetryable reports whether err is a rate limit or server-side failure.
func isRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == http.StatusTooManyRequests || apiErrPtr.Code >= http.StatusInternalServerError
	}
	return errors.Is(err, ErrEmptyResponse)
}
