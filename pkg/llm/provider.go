// Package llm defines the completion contract shared by model clients.
package llm

import (
	"context"
)

// Request is a single JSON-mode completion.
type Request struct {
	// System is sent as the system instruction when non-empty
	System string

	Prompt string

	// Schema constrains the response when the model supports it. It must
	// marshal to a JSON Schema document.
	Schema any
}

// Provider completes JSON-mode prompts and returns the raw response text.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)

	// IsConfigured reports whether credentials are present
	IsConfigured() bool

	Model() string
}
