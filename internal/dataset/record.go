// Package dataset supplies immutable record sets to the query pipeline.
// Records come from JSON array files; a YAML sidecar can describe the
// fields for the planning prompt.
package dataset

// Record is one row: field name to scalar or structured value. The pipeline
// never mutates loaded records, it only derives filtered or projected copies.
type Record = map[string]any

// ProvenanceField marks which source file a record came from when several
// files are combined into one record set.
const ProvenanceField = "_source"

// CloneRecords deep-copies a record set one level down. Handing a clone to
// the sandbox keeps interpreted code from reaching the loaded originals.
func CloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		c := make(Record, len(r))
		for k, v := range r {
			c[k] = cloneValue(v)
		}
		out[i] = c
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	default:
		return v
	}
}
