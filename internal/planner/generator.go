package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/llm"
	"datachat/internal/logging"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries everything one planning call needs.
type Request struct {
	Question string
	History  []Turn
	Dataset  *dataset.Dataset

	// Retry is non-nil on the second and later attempts.
	Retry *RetryContext
}

// Generator produces query plans by prompting a model.
type Generator struct {
	client llm.Client
	cfg    config.PipelineConfig
}

// NewGenerator creates a plan generator.
func NewGenerator(client llm.Client, cfg config.PipelineConfig) *Generator {
	return &Generator{client: client, cfg: cfg}
}

const systemPrompt = `You are a data analyst planning a transformation over a tabular dataset.
Respond with a single JSON object and nothing else. Schema:
{
  "filters": [{"field": string, "operator": "equals"|"contains"|"greater_than"|"less_than", "value": any}],
  "fields": [string],
  "limit": number,
  "code": string,
  "code_description": string,
  "explanation": string
}
All keys except "explanation" are optional. Use "filters" for row selection,
"fields" to pick columns, "limit" to cap rows. Only emit "code" when the
question needs aggregation or computation filters cannot express. Code must
be Go source defining exactly:

    func Transform(records []map[string]any) (any, error)

Return either []map[string]any or a single scalar. Only these packages may
be imported: strings, strconv, fmt, math, sort, time, regexp, unicode,
encoding/json. No file, network, environment, or process access exists in
the execution environment. When code is present, "code_description" must
state in one sentence what the code does.`

// Generate runs one planning call. The record sample placed in the prompt
// is bounded; the full record set is never serialized for the model.
func (g *Generator) Generate(ctx context.Context, req Request) (*QueryPlan, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "Generate")
	defer timer.Stop()

	prompt, err := g.buildPrompt(req)
	if err != nil {
		return nil, err
	}

	logging.PlannerDebug("planning prompt: %d bytes, retry=%v", len(prompt), req.Retry != nil)
	response, err := g.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("plan: model call failed: %w", err)
	}

	plan, err := ParsePlan(response)
	if err != nil {
		return nil, err
	}
	logging.Planner("plan: %d filters, %d fields, limit=%d, code=%v",
		len(plan.Filters), len(plan.Fields), plan.Limit, plan.HasCode())
	return plan, nil
}

func (g *Generator) buildPrompt(req Request) (string, error) {
	var b strings.Builder

	if ds := req.Dataset; ds != nil {
		fmt.Fprintf(&b, "Dataset: %s\n", ds.Name)
		if ds.Meta.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", ds.Meta.Description)
		}
		if len(ds.FieldOrder) > 0 {
			fmt.Fprintf(&b, "Fields: %s\n", strings.Join(ds.FieldOrder, ", "))
		}
		for _, f := range ds.Meta.Fields {
			if f.Description != "" {
				fmt.Fprintf(&b, "  %s (%s): %s\n", f.Name, f.Type, f.Description)
			}
		}
		sample := sampleRecords(ds.Records, g.cfg.SampleRecords, g.cfg.SampleValueRunes)
		data, err := json.MarshalIndent(sample, "", "  ")
		if err != nil {
			return "", fmt.Errorf("plan: marshal record sample: %w", err)
		}
		fmt.Fprintf(&b, "Total records: %d\nSample records:\n%s\n", len(ds.Records), data)
	}

	for _, turn := range req.History {
		fmt.Fprintf(&b, "\n[%s] %s", turn.Role, turn.Content)
	}

	if r := req.Retry; r != nil {
		fmt.Fprintf(&b, "\n\nAttempt %d. Your previous code failed.\n", r.Attempt)
		fmt.Fprintf(&b, "Previous code:\n%s\n", r.PreviousCode)
		fmt.Fprintf(&b, "Execution error: %s\n", r.ExecutionError)
		b.WriteString("Produce different code that avoids this error, or answer without code.\n")
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", req.Question)
	return b.String(), nil
}

// sampleRecords copies the first n records, truncating long values so the
// prompt stays small regardless of dataset shape.
func sampleRecords(records []dataset.Record, n, maxRunes int) []dataset.Record {
	if n <= 0 {
		n = 5
	}
	if n > len(records) {
		n = len(records)
	}
	out := make([]dataset.Record, 0, n)
	for _, r := range records[:n] {
		c := make(dataset.Record, len(r))
		for k, v := range r {
			c[k] = truncateValue(v, maxRunes)
		}
		out = append(out, c)
	}
	return out
}

func truncateValue(v any, maxRunes int) any {
	if maxRunes <= 0 {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return v
	}
	return string(runes[:maxRunes]) + "…"
}
