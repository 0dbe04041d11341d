package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without internal error",
			err:      New(http.StatusNotFound, "not_found", "Resource not found"),
			expected: "not_found: Resource not found",
		},
		{
			name:     "with internal error",
			err:      NewInternal("Something went wrong", errors.New("database connection failed")),
			expected: "internal_error: Something went wrong (database connection failed)",
		},
		{
			name:     "empty message",
			err:      New(http.StatusBadRequest, "bad_request", ""),
			expected: "bad_request: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same sentinel", ErrNotConfigured, ErrNotConfigured, true},
		{"derived by message", NewNotConfigured("YOUTUBE_API_KEY"), ErrNotConfigured, true},
		{"wrapped with fmt", fmt.Errorf("resolve: %w", NewUpstream("youtube", errors.New("eof"))), ErrUpstream, true},
		{"different code", NewParse("bad json", nil), ErrUpstream, false},
		{"plain error", errors.New("boom"), ErrInternal, false},
		{"database", NewDatabase("load job", errors.New("conn refused")), ErrDatabase, true},
		{"not found", NewNotFound("job", "job_1"), ErrNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	assert.Nil(t, ErrNotFound.Unwrap())
	assert.Same(t, cause, NewUpstream("mailgun", cause).Unwrap())
	assert.True(t, errors.Is(NewUpstream("mailgun", cause), cause))
}

func TestWithHelpersCopy(t *testing.T) {
	original := &Error{
		HTTPStatus: http.StatusBadRequest,
		Code:       "bad_request",
		Message:    "Original message",
		Internal:   errors.New("internal"),
		Details:    map[string]any{"key": "value"},
	}

	withMessage := original.WithMessage("Custom message")
	assert.Equal(t, "Custom message", withMessage.Message)
	assert.Equal(t, original.HTTPStatus, withMessage.HTTPStatus)
	assert.Equal(t, original.Code, withMessage.Code)
	assert.Equal(t, original.Internal, withMessage.Internal)
	assert.Equal(t, original.Details, withMessage.Details)

	cause := errors.New("other")
	withInternal := original.WithInternal(cause)
	assert.Same(t, cause, withInternal.Internal)
	assert.Equal(t, original.Details, withInternal.Details)

	withDetails := original.WithDetails(map[string]any{"field": "email"})
	assert.Equal(t, "email", withDetails.Details["field"])

	assert.Equal(t, "Original message", original.Message)
	assert.Equal(t, "value", original.Details["key"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"bad request", NewBadRequest("email is invalid"), http.StatusBadRequest, "bad_request", "email is invalid"},
		{"not found", NewNotFound("job", "job_42"), http.StatusNotFound, "not_found", "job 'job_42' not found"},
		{"not configured", NewNotConfigured("GEMINI_API_KEY"), http.StatusServiceUnavailable, "not_configured", "GEMINI_API_KEY is not configured"},
		{"upstream", NewUpstream("youtube", errors.New("timeout")), http.StatusBadGateway, "upstream_error", "youtube request failed"},
		{"parse", NewParse("expected 5 titles, got 2", nil), http.StatusBadGateway, "parse_error", "expected 5 titles, got 2"},
		{"database", NewDatabase("save job", errors.New("conn reset")), http.StatusInternalServerError, "database_error", "save job failed"},
		{"internal", NewInternal("Something went wrong", nil), http.StatusInternalServerError, "internal_error", "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantMsg, tt.err.Message)
		})
	}
}

func TestToEchoError(t *testing.T) {
	err := ErrBadRequest.WithMessage("channel is required").WithDetails(map[string]any{"field": "channel"})

	he := err.ToEchoError()
	assert.Equal(t, http.StatusBadRequest, he.Code)

	msg, ok := he.Message.(map[string]any)
	require.True(t, ok)
	body, ok := msg["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bad_request", body["code"])
	assert.Equal(t, "channel is required", body["message"])
	assert.Equal(t, map[string]any{"field": "channel"}, body["details"])
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", ErrNotFound, http.StatusNotFound, "not_found"},
		{"wrapped app error", fmt.Errorf("submit: %w", NewBadRequest("bad email")), http.StatusBadRequest, "bad_request"},
		{"generic error", errors.New("some generic error"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTPError(tt.err)
			assert.Equal(t, tt.wantStatus, status)

			errBody, ok := body["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, errBody["code"])
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "channel not found", Message(fmt.Errorf("resolve: %w", ErrNotFound.WithMessage("channel not found"))))
	assert.Equal(t, "plain", Message(errors.New("plain")))
}
