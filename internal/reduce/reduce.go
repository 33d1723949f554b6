// Package reduce bounds the data volume leaving the pipeline. It applies a
// plan's filters, limit, and field projection in a fixed order, then caps
// what is handed to answer synthesis. Every function here is deterministic
// and preserves the input record order.
package reduce

import (
	"fmt"
	"strconv"
	"strings"

	"datachat/internal/config"
	"datachat/internal/dataset"
	"datachat/internal/logging"
	"datachat/internal/planner"
)

// Outcome is the result of a full reduction pass.
type Outcome struct {
	Records []dataset.Record

	// Sampled is true when the synthesis cap truncated the set. Downstream
	// explanation text must mention this.
	Sampled bool

	// ProjectedFields is the field list actually kept, empty when the plan
	// had no allow-list.
	ProjectedFields []string
}

// Apply runs the four reduction steps in order: filters (logical AND),
// record limit, field projection, synthesis cap. Each step is a no-op when
// the plan omits it.
func Apply(records []dataset.Record, plan *planner.QueryPlan, cfg config.ReduceConfig) Outcome {
	out := FilterRecords(records, plan.Filters)

	if plan.Limit > 0 && len(out) > plan.Limit {
		out = out[:plan.Limit]
	}

	var projected []string
	if len(plan.Fields) > 0 {
		projected = selectFields(plan, cfg.FieldCap)
		out = projectRecords(out, projected)
	}

	sampled := false
	if len(out) > cfg.SynthesisRecordCap {
		out = out[:cfg.SynthesisRecordCap]
		sampled = true
	}

	logging.Debug(logging.CategoryReduce, "reduced %d records to %d (projected=%d sampled=%v)",
		len(records), len(out), len(projected), sampled)
	return Outcome{Records: out, Sampled: sampled, ProjectedFields: projected}
}

// FilterRecords returns the records matching every filter clause. A clause
// with an unrecognized operator matches everything.
func FilterRecords(records []dataset.Record, filters []planner.Filter) []dataset.Record {
	if len(filters) == 0 {
		out := make([]dataset.Record, len(records))
		copy(out, records)
		return out
	}
	out := make([]dataset.Record, 0, len(records))
	for _, r := range records {
		if matchesAll(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

func matchesAll(r dataset.Record, filters []planner.Filter) bool {
	for _, f := range filters {
		if !matches(r, f) {
			return false
		}
	}
	return true
}

func matches(r dataset.Record, f planner.Filter) bool {
	switch f.Operator {
	case planner.OpEquals, planner.OpContains, planner.OpGreaterThan, planner.OpLessThan:
	default:
		// Permissive default: an operator this stage does not understand
		// must not silently drop data.
		return true
	}

	value, ok := r[f.Field]
	if !ok {
		return false
	}

	switch f.Operator {
	case planner.OpEquals:
		return equalValues(value, f.Value)
	case planner.OpContains:
		return strings.Contains(
			strings.ToLower(stringForm(value)),
			strings.ToLower(stringForm(f.Value)))
	case planner.OpGreaterThan:
		return orderedCompare(value, f.Value) > 0
	case planner.OpLessThan:
		return orderedCompare(value, f.Value) < 0
	}
	return false
}

// equalValues compares numerically when both sides are numbers (or numeric
// strings, which models emit freely), otherwise by string form.
func equalValues(a, b any) bool {
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return na == nb
		}
	}
	return stringForm(a) == stringForm(b)
}

// orderedCompare returns -1, 0, or 1. Numeric when possible, lexical
// otherwise (which orders ISO dates correctly).
func orderedCompare(a, b any) int {
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(stringForm(a), stringForm(b))
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringForm(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// selectFields applies the width cap to a plan's allow-list. Priority under
// the cap: the provenance marker first, then fields referenced by filter
// clauses, then the remaining allow-listed fields in their original order.
func selectFields(plan *planner.QueryPlan, width int) []string {
	fields := plan.Fields
	if width <= 0 || len(fields) <= width {
		out := make([]string, len(fields))
		copy(out, fields)
		return out
	}

	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}

	var out []string
	seen := make(map[string]bool, width)
	add := func(f string) {
		if len(out) < width && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	if allowed[dataset.ProvenanceField] {
		add(dataset.ProvenanceField)
	}
	for _, f := range plan.Filters {
		if allowed[f.Field] {
			add(f.Field)
		}
	}
	for _, f := range fields {
		add(f)
	}
	return out
}

func projectRecords(records []dataset.Record, fields []string) []dataset.Record {
	out := make([]dataset.Record, len(records))
	for i, r := range records {
		p := make(dataset.Record, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok {
				p[f] = v
			}
		}
		out[i] = p
	}
	return out
}
