// Package config holds the datachat configuration, loaded from a YAML file
// with environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates all datachat settings.
type Config struct {
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Sandbox  SandboxConfig  `yaml:"sandbox" json:"sandbox"`
	Reduce   ReduceConfig   `yaml:"reduce" json:"reduce"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		LLM:      DefaultLLMConfig(),
		Pipeline: DefaultPipelineConfig(),
		Sandbox:  DefaultSandboxConfig(),
		Reduce:   DefaultReduceConfig(),
		Server:   DefaultServerConfig(),
	}
}

// Load reads a YAML config file and applies environment overrides.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiAPIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAIAPIKey = key
	}
	if url := os.Getenv("DATACHAT_OPENAI_BASE_URL"); url != "" {
		c.LLM.OpenAIBaseURL = url
	}
	if model := os.Getenv("DATACHAT_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if addr := os.Getenv("DATACHAT_LISTEN"); addr != "" {
		c.Server.Listen = addr
	}
	if v := os.Getenv("DATACHAT_SANDBOX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Sandbox.Timeout = Duration(d)
		}
	}
	if v := os.Getenv("DATACHAT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.MaxAttempts = n
		}
	}
}

func (c *Config) validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be positive, got %s", c.Sandbox.Timeout)
	}
	if c.Reduce.FieldCap < 1 || c.Reduce.SynthesisRecordCap < 1 {
		return fmt.Errorf("reduce caps must be >= 1")
	}
	return nil
}
