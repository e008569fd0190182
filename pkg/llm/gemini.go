// Package llm builds the language-model backends the simulation talks to.
// Every backend is exposed as an adk model.LLM.
package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no Gemini model is configured.
const DefaultGeminiModel = "gemini-3-flash-preview"

// NewGemini creates a Gemini-backed model.
func NewGemini(ctx context.Context, cfg Config) (model.LLM, error) {
	if cfg.GoogleAPIKey == "" {
		return nil, errors.New("GOOGLE_API_KEY not set")
	}
	name := cfg.GoogleModel
	if name == "" {
		name = DefaultGeminiModel
	}
	m, err := gemini.NewModel(ctx, name, &genai.ClientConfig{
		APIKey:  cfg.GoogleAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model (%s): %w", name, err)
	}
	return m, nil
}
