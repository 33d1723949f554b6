package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"datachat/internal/logging"
)

// FieldInfo documents one dataset field for the planning prompt.
type FieldInfo struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Metadata is the optional YAML sidecar next to a dataset file.
type Metadata struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []FieldInfo `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Dataset is an immutable, ordered record set plus its description.
type Dataset struct {
	Name       string
	Records    []Record
	FieldOrder []string
	Meta       Metadata

	// Combined is true when records were merged from several files and
	// each record carries the ProvenanceField marker.
	Combined bool
}

// LoadFile reads a JSON array of objects and, if present, the YAML sidecar
// sharing its base name.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse dataset %s: expected a JSON array of objects: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ds := &Dataset{
		Name:       name,
		Records:    records,
		FieldOrder: fieldOrderFromJSON(data),
	}

	sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
	if meta, err := loadMetadata(sidecar); err == nil {
		ds.Meta = *meta
		if meta.Name != "" {
			ds.Name = meta.Name
		}
	}

	logging.Info(logging.CategoryBoot, "loaded dataset %s: %d records, %d fields",
		ds.Name, len(ds.Records), len(ds.FieldOrder))
	return ds, nil
}

// LoadDir loads every *.json file in dir. With more than one file, records
// are combined in file-name order and stamped with the provenance marker.
func LoadDir(dir string) (*Dataset, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no dataset files in %s", dir)
	}
	sort.Strings(matches)

	if len(matches) == 1 {
		return LoadFile(matches[0])
	}

	combined := &Dataset{
		Name:     filepath.Base(dir),
		Combined: true,
	}
	seen := map[string]bool{}
	for _, path := range matches {
		ds, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range ds.Records {
			c := make(Record, len(r)+1)
			for k, v := range r {
				c[k] = v
			}
			c[ProvenanceField] = ds.Name
			combined.Records = append(combined.Records, c)
		}
		for _, f := range ds.FieldOrder {
			if !seen[f] {
				seen[f] = true
				combined.FieldOrder = append(combined.FieldOrder, f)
			}
		}
	}
	if !seen[ProvenanceField] {
		combined.FieldOrder = append([]string{ProvenanceField}, combined.FieldOrder...)
	}
	return combined, nil
}

func loadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return &meta, nil
}

// fieldOrderFromJSON recovers the key order of the first object in a JSON
// array. encoding/json maps lose order, so the raw tokens are walked once.
func fieldOrderFromJSON(data []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Consume '[' then '{' of the first object.
	for _, want := range []json.Delim{'[', '{'} {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		d, ok := tok.(json.Delim)
		if !ok || d != want {
			return nil
		}
	}

	var order []string
	depth := 0
	expectKey := true
	for {
		tok, err := dec.Token()
		if err != nil {
			return order
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				depth++
			case '}', ']':
				if depth == 0 {
					return order
				}
				depth--
			}
			if depth == 0 {
				expectKey = true
			}
		case string:
			if depth == 0 && expectKey {
				order = append(order, t)
				expectKey = false
				continue
			}
			if depth == 0 {
				expectKey = true
			}
		default:
			if depth == 0 {
				expectKey = true
			}
		}
	}
}
