// Package titles turns a channel's recent video titles into improved titles
// using a JSON-mode language model.
package titles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/ArpitGupta4957/yt-title-doctor/domain/jobstore"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/apperror"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/llm"
	"github.com/ArpitGupta4957/yt-title-doctor/pkg/logger"
)

// Suggestion is one improved title as returned by the model.
type Suggestion struct {
	Original  string `json:"original"`
	Improved  string `json:"improved"`
	Rationale string `json:"rationale"`
}

type response struct {
	Titles []Suggestion `json:"titles"`
}

// Generator produces improved titles through an llm.Provider.
type Generator struct {
	provider llm.Provider
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
	log      *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(provider llm.Provider, log *slog.Logger) (*Generator, error) {
	schema := responseSchema()
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving title response schema: %w", err)
	}
	return &Generator{
		provider: provider,
		schema:   schema,
		resolved: resolved,
		log:      log.With(logger.Scope("titles"), slog.String("model", provider.Model())),
	}, nil
}

// Generate returns one suggestion per title, in input order.
func (g *Generator) Generate(ctx context.Context, channelName string, titles []string) ([]Suggestion, error) {
	if !g.provider.IsConfigured() {
		return nil, apperror.NewNotConfigured("GEMINI_API_KEY")
	}
	if len(titles) == 0 {
		return nil, apperror.NewBadRequest("no titles to improve")
	}

	raw, err := g.provider.Complete(ctx, llm.Request{
		System: systemInstruction,
		Prompt: buildPrompt(channelName, titles),
		Schema: g.schema,
	})
	if err != nil {
		return nil, apperror.NewUpstream("gemini", err)
	}

	suggestions, err := g.parse(raw)
	if err != nil {
		g.log.Warn("unusable title response",
			slog.Int("expected", len(titles)),
			logger.Error(err))
		return nil, err
	}

	if len(suggestions) != len(titles) {
		return nil, apperror.NewParse(
			fmt.Sprintf("expected %d improved titles, got %d", len(titles), len(suggestions)), nil)
	}
	return suggestions, nil
}

func (g *Generator) parse(raw string) ([]Suggestion, error) {
	cleaned := stripFences(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, apperror.NewParse("title response is not valid JSON", err)
	}
	if err := g.resolved.Validate(doc); err != nil {
		return nil, apperror.NewParse("title response does not match schema", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, apperror.NewParse("title response is not valid JSON", err)
	}
	return resp.Titles, nil
}

// Attach pairs suggestions with videos by position. The url always comes
// from the video, never from the model.
func Attach(videos []jobstore.VideoRef, suggestions []Suggestion) ([]jobstore.TitleImprovement, error) {
	if len(videos) != len(suggestions) {
		return nil, apperror.NewParse(
			fmt.Sprintf("expected %d improved titles, got %d", len(videos), len(suggestions)), nil)
	}
	out := make([]jobstore.TitleImprovement, len(videos))
	for i, s := range suggestions {
		original := s.Original
		if strings.TrimSpace(original) == "" {
			original = videos[i].Title
		}
		out[i] = jobstore.TitleImprovement{
			Original:  original,
			Improved:  s.Improved,
			Rationale: s.Rationale,
			URL:       videos[i].URL,
		}
	}
	return out, nil
}

// Titles extracts the titles of videos in order.
func Titles(videos []jobstore.VideoRef) []string {
	out := make([]string, len(videos))
	for i, v := range videos {
		out[i] = v.Title
	}
	return out
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:nl]), "{") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func responseSchema() *jsonschema.Schema {
	nonEmpty := func() *jsonschema.Schema {
		return &jsonschema.Schema{Type: "string", MinLength: intPtr(1)}
	}
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"titles"},
		Properties: map[string]*jsonschema.Schema{
			"titles": {
				Type:     "array",
				MinItems: intPtr(1),
				Items: &jsonschema.Schema{
					Type:     "object",
					Required: []string{"original", "improved", "rationale"},
					Properties: map[string]*jsonschema.Schema{
						"original":  {Type: "string"},
						"improved":  nonEmpty(),
						"rationale": nonEmpty(),
					},
				},
			},
		},
	}
}

func intPtr(n int) *int { return &n }
