// Package llm abstracts model providers behind a minimal completion
// interface. The pipeline only ever needs prompt-in, text-out.
package llm

import (
	"context"
	"errors"
)

// Client is the minimal interface the pipeline uses to call a model.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrNoProvider is returned when no API key matches the requested model.
var ErrNoProvider = errors.New("llm: no provider configured for model")

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("llm: provider returned an empty response")
