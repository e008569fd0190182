package llm

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
)

// Providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config selects and configures a backend. It is read from the environment.
type Config struct {
	Provider      string `env:"MOLT_PROVIDER" envDefault:"openai"`
	GoogleAPIKey  string `env:"GOOGLE_API_KEY"`
	GoogleModel   string `env:"GOOGLE_MODEL"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`
}

// New returns the model for cfg.Provider.
func New(ctx context.Context, cfg Config) (model.LLM, error) {
	switch cfg.Provider {
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	case ProviderOpenAI, "":
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("unknown provider %q (want %s or %s)", cfg.Provider, ProviderGemini, ProviderOpenAI)
}
