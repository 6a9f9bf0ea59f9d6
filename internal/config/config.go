package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all keepsake configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Provider     string  `yaml:"provider"` // "anthropic", "openai", "ollama"
	Model        string  `yaml:"model"`
	AnthropicKey string  `yaml:"anthropic_key"`
	OpenAIKey    string  `yaml:"openai_key"`
	OllamaURL    string  `yaml:"ollama_url"`
	OllamaModel  string  `yaml:"ollama_model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
}

// PipelineConfig tunes the background extraction pipeline.
type PipelineConfig struct {
	PollIntervalMS   int     `yaml:"poll_interval_ms"` // durable queue poll cadence
	DrainTimeoutS    int     `yaml:"drain_timeout_s"`  // shutdown drain ceiling
	WindowTokens     int     `yaml:"window_tokens"`    // exchange window budget for fast-scan
	DecayRate        float64 `yaml:"decay_rate"`       // k in the decay formula
	DecayDeadZoneMin int     `yaml:"decay_dead_zone_min"`
	ValidationCap    int     `yaml:"validation_cap"` // max low-confidence validations per scan
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37911,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-haiku-4-5-20251001",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
			MaxTokens:   2048,
			Temperature: 0.3,
		},
		Pipeline: PipelineConfig{
			PollIntervalMS:   100,
			DrainTimeoutS:    5,
			WindowTokens:     3000,
			DecayRate:        0.1,
			DecayDeadZoneMin: 6,
			ValidationCap:    5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path: ~/.keepsake/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".keepsake", "config.yaml"), nil
}

// Load reads the config file at path, layering it over defaults and then
// applying environment overrides. A missing file is not an error; defaults
// plus environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets API keys in the environment win over the file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAIKey = key
		if c.LLM.AnthropicKey == "" {
			c.LLM.Provider = "openai"
		}
	}
	if level := os.Getenv("KEEPSAKE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
