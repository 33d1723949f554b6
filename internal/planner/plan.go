// Package planner turns a natural-language question into a structured
// query plan by prompting a model and parsing its response against a
// strict schema. Loose model output never leaks past this package: the
// parse fails closed on any shape deviation.
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Filter operators understood by the reduction stage. The plan schema does
// not reject other operator strings; reduction treats unknown operators as
// pass-through.
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Filter is one clause applied as a logical AND across records.
type Filter struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// QueryPlan is the model's transformation plan for one attempt.
type QueryPlan struct {
	Filters []Filter `json:"filters,omitempty" validate:"dive"`

	// Fields is an optional projection allow-list.
	Fields []string `json:"fields,omitempty"`

	// Limit truncates the record set when positive; zero means no limit.
	Limit int `json:"limit,omitempty" validate:"gte=0"`

	// Code is optional Go source defining Transform. A plan without code
	// is immediately eligible for execution with filtered data.
	Code string `json:"code,omitempty"`

	// CodeDescription states the code's intent for the safety review.
	CodeDescription string `json:"code_description,omitempty" validate:"required_with=Code"`

	Explanation string `json:"explanation" validate:"required"`
}

// HasCode reports whether the plan carries generated code.
func (p *QueryPlan) HasCode() bool {
	return strings.TrimSpace(p.Code) != ""
}

// WithoutCode returns a copy of the plan with the code stripped. Used when
// the safety review rejects an attempt's code.
func (p *QueryPlan) WithoutCode() *QueryPlan {
	c := *p
	c.Code = ""
	c.CodeDescription = ""
	return &c
}

// WithoutFilters returns a copy with filter clauses cleared. Used when
// reducing a record set the filters were already applied to.
func (p *QueryPlan) WithoutFilters() *QueryPlan {
	c := *p
	c.Filters = nil
	return &c
}

// RetryContext carries one failed attempt's code and error into the next
// planning call. It exists only between two consecutive attempts.
type RetryContext struct {
	Attempt        int
	PreviousCode   string
	ExecutionError string
}

var planValidator = validator.New(validator.WithRequiredStructEnabled())

// ParsePlan extracts the JSON object from a model response and decodes it
// into a QueryPlan. Unknown fields, missing required fields, and wrong
// types are all fatal.
func ParsePlan(response string) (*QueryPlan, error) {
	raw := extractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("plan: no JSON object in model response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var plan QueryPlan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("plan: malformed response: %w", err)
	}
	if err := planValidator.Struct(&plan); err != nil {
		return nil, fmt.Errorf("plan: schema violation: %w", err)
	}
	return &plan, nil
}

// extractJSON returns the first balanced JSON object in text, tolerating
// markdown fences and prose around it.
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
