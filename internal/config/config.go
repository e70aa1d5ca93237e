// Package config loads and validates the orchestration core's
// configuration: which participants take part in a conversation, how
// the Turn Manager orders them, the timing and threshold knobs the
// other collaborators are built with, and the logging setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"orchestra/internal/types"
)

// ParticipantConfig describes one conversation participant as stored on
// disk. main.go turns each entry into a types.Participant by resolving
// Provider/ModelID into a concrete types.LLMClient (see buildClient).
type ParticipantConfig struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Color       string `yaml:"color"`
	Enabled     bool   `yaml:"enabled"`
	MaxTokens   int    `yaml:"max_tokens"`
	Provider    string `yaml:"provider"`
	ModelID     string `yaml:"model_id"`
}

// TurnManagerConfig configures the Turn Manager's ordering policy.
type TurnManagerConfig struct {
	Strategy   string   `yaml:"strategy"` // "confidence", "rotate", or "fixed"
	FixedOrder []string `yaml:"fixed_order"`
}

// DeadlinesConfig holds the per-phase timeouts handed to the Speaker
// Evaluator and the Turn Executor.
type DeadlinesConfig struct {
	Evaluation time.Duration `yaml:"evaluation"`
	Tool       time.Duration `yaml:"tool"`
	Generation time.Duration `yaml:"generation"`
}

// SummarizationConfig configures the Summarizer.
type SummarizationConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"`
}

// PermissionsConfig configures the Permission Manager.
type PermissionsConfig struct {
	Overrides map[string]types.PermissionLevel `yaml:"overrides"`
	Blocked   []string                         `yaml:"blocked"`
}

// ProviderConfig holds a single model provider's API key, settable
// either directly in the config file or via environment variable.
type ProviderConfig struct {
	APIKey string `yaml:"api_key"`
}

// Config is the root configuration for the orchestration core.
type Config struct {
	Participants     []ParticipantConfig       `yaml:"participants"`
	TurnManager      TurnManagerConfig         `yaml:"turn_manager"`
	SilenceThreshold float64                   `yaml:"silence_threshold"`
	Deadlines        DeadlinesConfig           `yaml:"deadlines"`
	Summarization    SummarizationConfig       `yaml:"summarization"`
	Permissions      PermissionsConfig         `yaml:"permissions"`
	Logging          LoggingConfig             `yaml:"logging"`
	Execution        ExecutionConfig           `yaml:"execution"`
	Gemini           GeminiProviderConfig      `yaml:"gemini"`
	DatabasePath     string                    `yaml:"database_path"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
}

// providerEnvVars maps a provider name to the environment variable that
// carries its API key, matching the naming the rest of the ecosystem
// uses for these same providers.
var providerEnvVars = map[string]string{
	"zai":        "ZAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"xai":        "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// DefaultConfig returns a minimal single-participant default: a lone
// Gemini participant, confidence-ordered turns, and a 0.3 silence
// threshold.
func DefaultConfig() *Config {
	return &Config{
		Participants: []ParticipantConfig{
			{ID: "gemini", DisplayName: "Gemini", Enabled: true, MaxTokens: 2048, Provider: "gemini", ModelID: "gemini-2.5-flash"},
		},
		TurnManager:      TurnManagerConfig{Strategy: "confidence"},
		SilenceThreshold: 0.3,
		Deadlines: DeadlinesConfig{
			Evaluation: 5 * time.Second,
			Tool:       30 * time.Second,
			Generation: 60 * time.Second,
		},
		Summarization: SummarizationConfig{Enabled: true, Threshold: 50_000},
		Logging:       DefaultLoggingConfig(),
		Execution:     DefaultExecutionConfig(),
		Gemini:        DefaultGeminiProviderConfig(),
		DatabasePath:  ".orchestra/orchestra.db",
	}
}

// Load reads and parses a YAML config file at path, applying environment
// variable overrides on top, then validating the result. A missing file
// is not an error: Load returns DefaultConfig with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides fills in each referenced provider's API key from its
// environment variable when not already set in the file, and resolves
// the Gemini provider's key specifically since it is the one wired
// client implementation.
func (c *Config) applyEnvOverrides() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}

	needed := map[string]bool{}
	for _, p := range c.Participants {
		needed[p.Provider] = true
	}
	needed["gemini"] = true

	for name := range needed {
		envVar, ok := providerEnvVars[name]
		if !ok {
			continue
		}
		if c.Providers[name].APIKey != "" {
			continue
		}
		if key := os.Getenv(envVar); key != "" {
			c.Providers[name] = ProviderConfig{APIKey: key}
		}
	}

	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = c.Providers["gemini"].APIKey
	}
	if path := os.Getenv("ORCHESTRA_DB"); path != "" {
		c.DatabasePath = path
	}
}

// Validate checks the configuration for internal consistency: at least
// one enabled participant, a recognized turn manager strategy, and, for
// the fixed and rotate strategies, a non-empty fixed order that names only
// configured participants (it need not list all of them).
func (c *Config) Validate() error {
	enabled := 0
	seen := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate participant id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("config: at least one participant must be enabled")
	}

	switch c.TurnManager.Strategy {
	case "confidence", "rotate", "fixed":
	default:
		return fmt.Errorf("config: unknown turn manager strategy %q", c.TurnManager.Strategy)
	}
	if c.TurnManager.Strategy == "fixed" || c.TurnManager.Strategy == "rotate" {
		if len(c.TurnManager.FixedOrder) == 0 {
			return fmt.Errorf("config: turn_manager.fixed_order is required for strategy %q", c.TurnManager.Strategy)
		}
		for _, id := range c.TurnManager.FixedOrder {
			if !seen[id] {
				return fmt.Errorf("config: turn_manager.fixed_order references unknown participant %q", id)
			}
		}
	}

	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("config: silence_threshold must be in [0,1], got %v", c.SilenceThreshold)
	}
	return nil
}

// FindWorkspaceRoot walks up from the current directory looking for a
// .orchestra directory or a go.mod, matching the convention the CLI
// uses for locating per-workspace config, database, and log files.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".orchestra")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return os.Getwd()
		}
		dir = parent
	}
}

// DefaultConfigPath returns <workspace>/.orchestra/config.yaml.
func DefaultConfigPath(workspace string) string {
	return filepath.Join(workspace, ".orchestra", "config.yaml")
}
