package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArpitGupta4957/yt-title-doctor/pkg/llm"
)

var _ llm.Provider = (*Client)(nil)

func textResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
		"usageMetadata": map[string]any{"promptTokenCount": 10, "candidatesTokenCount": 5},
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, WithBaseDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(context.Background(), Config{})
	require.NoError(t, err)

	assert.False(t, c.IsConfigured())
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, DefaultTemperature, c.temperature)
	assert.Equal(t, DefaultMaxOutputTokens, c.maxOutputTokens)
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
}

func TestComplete_NotConfigured(t *testing.T) {
	c, err := NewClient(context.Background(), Config{})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), llm.Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestComplete_SendsJSONModeRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "models/"+DefaultModel+":generateContent")

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		gen := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", gen["responseMimeType"])
		assert.InDelta(t, 0.7, gen["temperature"], 0.001)
		assert.Equal(t, map[string]any{"type": "object"}, gen["responseJsonSchema"])

		sys := body["systemInstruction"].(map[string]any)
		parts := sys["parts"].([]any)
		assert.Equal(t, "be brief", parts[0].(map[string]any)["text"])

		writeJSON(w, http.StatusOK, textResponse(`  {"titles":[]}  `))
	})

	text, err := c.Complete(context.Background(), llm.Request{
		System: "be brief",
		Prompt: "improve these",
		Schema: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"titles":[]}`, text)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error": map[string]any{"code": 503, "message": "overloaded", "status": "UNAVAILABLE"},
			})
			return
		}
		writeJSON(w, http.StatusOK, textResponse(`{"ok":true}`))
	})

	text, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": 400, "message": "bad prompt", "status": "INVALID_ARGUMENT"},
		})
	})

	_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_EmptyResponseExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, textResponse("   "))
	})

	_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, int32(DefaultMaxRetries+1), calls.Load())
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, c.calculateBackoff(1))
	assert.Equal(t, 200*time.Millisecond, c.calculateBackoff(2))
	assert.Equal(t, 400*time.Millisecond, c.calculateBackoff(3))
	assert.Equal(t, time.Second, c.calculateBackoff(10))
}
