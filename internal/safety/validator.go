// Package safety reviews model-generated code before it reaches the
// sandbox. The review is advisory: it reasons over the code text and its
// stated intent without executing anything. The sandbox's capability set
// remains the authoritative control; this gate exists to reject obviously
// hostile or broken code before an interpreter run is paid for.
package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datachat/internal/llm"
	"datachat/internal/logging"
	"datachat/internal/sandbox"
)

// Verdict is the outcome of one code review.
type Verdict struct {
	Approved bool     `json:"approved"`
	Reason   string   `json:"reason"`
	Risks    []string `json:"risks,omitempty"`
}

// Validator reviews generated code.
type Validator struct {
	client llm.Client
}

// NewValidator creates a code safety validator.
func NewValidator(client llm.Client) *Validator {
	return &Validator{client: client}
}

const reviewSystemPrompt = `You review Go code generated for a data
transformation sandbox. The code receives a copy of tabular records and may
only compute over them. Approve it only if it does nothing beyond
transforming the given records. Reject code that attempts I/O, reads
process or environment state, spawns goroutines that never finish, loops
without bound, or does anything unrelated to its stated intent.
Respond with a single JSON object and nothing else:
{"approved": true|false, "reason": "one sentence", "risks": ["specific finding", ...]}`

// Review produces a verdict for code with its stated intent. A rejection
// always carries a human-readable reason. Review errors reject rather than
// approve: unreviewed code never counts as vetted.
func (v *Validator) Review(ctx context.Context, code, description string) (*Verdict, error) {
	timer := logging.StartTimer(logging.CategorySafety, "Review")
	defer timer.Stop()

	// Import screen first: a forbidden import needs no model call.
	if forbidden := screenImports(code); len(forbidden) > 0 {
		verdict := &Verdict{
			Approved: false,
			Reason:   fmt.Sprintf("code imports packages outside the sandbox allow-list: %s", strings.Join(forbidden, ", ")),
		}
		for _, pkg := range forbidden {
			verdict.Risks = append(verdict.Risks, fmt.Sprintf("forbidden import %q", pkg))
		}
		logging.Safety("rejected before review: %s", verdict.Reason)
		return verdict, nil
	}

	prompt := fmt.Sprintf("Stated intent: %s\n\nCode:\n```go\n%s\n```", description, code)
	response, err := v.client.CompleteWithSystem(ctx, reviewSystemPrompt, prompt)
	if err != nil {
		logging.Safety("review call failed, rejecting: %v", err)
		return &Verdict{
			Approved: false,
			Reason:   fmt.Sprintf("safety review unavailable: %v", err),
		}, nil
	}

	verdict, err := parseVerdict(response)
	if err != nil {
		logging.Safety("unparsable review, rejecting: %v", err)
		return &Verdict{
			Approved: false,
			Reason:   fmt.Sprintf("safety review produced no usable verdict: %v", err),
		}, nil
	}
	logging.Safety("verdict: approved=%v reason=%q risks=%d", verdict.Approved, verdict.Reason, len(verdict.Risks))
	return verdict, nil
}

func parseVerdict(response string) (*Verdict, error) {
	raw := extractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in review response")
	}
	var verdict Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("malformed review response: %w", err)
	}
	if !verdict.Approved && verdict.Reason == "" {
		verdict.Reason = "code rejected by safety review"
	}
	return &verdict, nil
}

// screenImports returns imports outside the sandbox allow-list. It scans
// the import block textually so even unparsable code gets screened.
func screenImports(code string) []string {
	allowed := make(map[string]bool)
	for _, p := range sandbox.AllowedPackages() {
		allowed[p] = true
	}

	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := importPath(trimmed); pkg != "" && !allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			if pkg := importPath(strings.TrimPrefix(trimmed, "import ")); pkg != "" && !allowed[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	return forbidden
}

// importPath extracts the quoted path from an import line, ignoring any
// alias before the quote.
func importPath(line string) string {
	i := strings.IndexByte(line, '"')
	if i == -1 {
		return ""
	}
	j := strings.IndexByte(line[i+1:], '"')
	if j == -1 {
		return ""
	}
	return line[i+1 : i+1+j]
}

// extractJSON returns the first balanced JSON object in text.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}
