// Package answer turns a pipeline outcome into the final natural-language
// response. It is the last model call of a run and sees only the reduced
// record set with the plan explanation and audit summary, never the full
// dataset.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datachat/internal/llm"
	"datachat/internal/logging"
	"datachat/internal/pipeline"
)

// Answer is the final product for one question.
type Answer struct {
	Text    string           `json:"text"`
	Summary pipeline.Summary `json:"summary"`
}

// Synthesizer produces answers from pipeline outcomes.
type Synthesizer struct {
	client llm.Client
}

// NewSynthesizer creates an answer synthesizer.
func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

const synthesisSystemPrompt = `You answer a user's question about a dataset
using only the data provided. Be direct and concrete: name values, counts,
and units from the data. If the data was sampled, say the answer is based on
a sample. Do not mention plans, pipelines, or code. Plain text only.`

// Synthesize runs the synthesis model call.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, outcome *pipeline.Outcome) (*Answer, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "Synthesize")
	defer timer.Stop()

	prompt, err := buildPrompt(question, outcome)
	if err != nil {
		return nil, err
	}
	text, err := s.client.CompleteWithSystem(ctx, synthesisSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("answer: synthesis call failed: %w", err)
	}
	return &Answer{Text: strings.TrimSpace(text), Summary: outcome.Summary}, nil
}

func buildPrompt(question string, outcome *pipeline.Outcome) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	if outcome.Explanation != "" {
		fmt.Fprintf(&b, "How the data was selected: %s\n\n", outcome.Explanation)
	}

	if outcome.IsScalar {
		fmt.Fprintf(&b, "Computed result: %v\n", outcome.Scalar)
		return b.String(), nil
	}

	data, err := json.MarshalIndent(outcome.Records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("answer: marshal records: %w", err)
	}
	fmt.Fprintf(&b, "Matching records (%d of %d):\n%s\n",
		outcome.Summary.RecordsAfter, outcome.Summary.RecordsBefore, data)
	return b.String(), nil
}
