package config

import "time"

// PipelineConfig bounds the plan/validate/execute retry loop.
type PipelineConfig struct {
	// MaxAttempts is the planning attempt ceiling. Execution failures
	// re-enter planning until it is reached.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// SampleRecords is how many records are serialized into the planning
	// prompt. The full record set is never sent to the model.
	SampleRecords int `yaml:"sample_records" json:"sample_records"`

	// SampleValueRunes truncates each sampled field value's string form.
	SampleValueRunes int `yaml:"sample_value_runes" json:"sample_value_runes"`
}

// DefaultPipelineConfig returns the reference retry behavior.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts:      2,
		SampleRecords:    5,
		SampleValueRunes: 120,
	}
}

// SandboxConfig bounds interpreted code execution.
type SandboxConfig struct {
	// Timeout is the wall-clock bound on one code execution.
	Timeout Duration `yaml:"timeout" json:"timeout"`

	// MaxCodeBytes rejects oversized generated code before interpretation.
	MaxCodeBytes int `yaml:"max_code_bytes" json:"max_code_bytes"`
}

// DefaultSandboxConfig returns the default execution bounds.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:      Duration(5 * time.Second),
		MaxCodeBytes: 64 * 1024,
	}
}

// ReduceConfig caps the data volume leaving the pipeline.
type ReduceConfig struct {
	// FieldCap is the maximum projected field width.
	FieldCap int `yaml:"field_cap" json:"field_cap"`

	// SynthesisRecordCap bounds what is sent to answer synthesis. Exceeding
	// it truncates the set and marks the result as sampled.
	SynthesisRecordCap int `yaml:"synthesis_record_cap" json:"synthesis_record_cap"`
}

// DefaultReduceConfig returns the reference caps.
func DefaultReduceConfig() ReduceConfig {
	return ReduceConfig{
		FieldCap:           10,
		SynthesisRecordCap: 50,
	}
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`

	// DatasetDir is scanned for *.json dataset files at startup.
	DatasetDir string `yaml:"dataset_dir" json:"dataset_dir"`
}

// DefaultServerConfig returns the default listen address.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:     "127.0.0.1:8790",
		DatasetDir: "data",
	}
}
