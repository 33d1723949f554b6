package llm

import (
	"context"
	"strings"

	"datachat/internal/config"
)

// NewClient picks a provider for the given model name. A model of the form
// "provider/name" forces that provider; a bare name is routed by prefix
// ("gemini-*" to Gemini, everything else to the OpenAI-compatible client).
// An empty model falls back to the configured default.
func NewClient(ctx context.Context, cfg config.LLMConfig, model string) (Client, error) {
	if model == "" {
		model = cfg.Model
	}

	provider := ""
	if i := strings.IndexByte(model, '/'); i > 0 {
		provider, model = model[:i], model[i+1:]
	}

	switch {
	case provider == "gemini" || (provider == "" && strings.HasPrefix(model, "gemini")):
		if cfg.GeminiAPIKey == "" {
			return nil, ErrNoProvider
		}
		return NewGeminiClient(ctx, cfg.GeminiAPIKey, model, cfg.RequestTimeout.Std())
	case provider == "openai" || provider == "":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, ErrNoProvider
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, model, cfg.RequestTimeout.Std())
	default:
		return nil, ErrNoProvider
	}
}
