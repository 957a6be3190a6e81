// ABOUTME: Configuration loading and parsing for steward-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete steward-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Teams    TeamsConfig    `yaml:"teams"`
	Model    ModelConfig    `yaml:"model"`
	Tools    ToolsConfig    `yaml:"tools"`
	Plans    PlansConfig    `yaml:"plans"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TeamsConfig points at the TOML team registry file
type TeamsConfig struct {
	Path string `yaml:"path"`
}

// ModelConfig selects and configures the model backend.
// Provider "gemini" talks to the Gemini API; "scripted" replays canned
// responses and needs no network or credentials.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// ToolsConfig holds MCP tool service configuration
type ToolsConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"-"`
	InvokeTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryBackoffRaw  string `yaml:"retry_backoff"`
	InvokeTimeoutRaw string `yaml:"invoke_timeout"`
}

// PlansConfig holds plan lifecycle tuning
type PlansConfig struct {
	AttachDebounce time.Duration `yaml:"-"`
	StepTimeout    time.Duration `yaml:"-"`
	MaxToolTurns   int           `yaml:"max_tool_turns"`

	// Raw string values for YAML unmarshaling
	AttachDebounceRaw string `yaml:"attach_debounce"`
	StepTimeoutRaw    string `yaml:"step_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a runnable baseline configuration: scripted model backend,
// local SQLite database, and no tool service.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8389"},
		Database: DatabaseConfig{Path: "steward.db"},
		Teams:    TeamsConfig{Path: "teams.toml"},
		Model:    ModelConfig{Provider: "scripted"},
		Plans: PlansConfig{
			AttachDebounce: time.Second,
			StepTimeout:    2 * time.Minute,
			MaxToolTurns:   6,
		},
		Tools: ToolsConfig{
			MaxRetries:    2,
			RetryBackoff:  500 * time.Millisecond,
			InvokeTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Teams.Path == "" {
		return fmt.Errorf("teams.path is required")
	}

	switch c.Model.Provider {
	case "scripted":
	case "gemini":
		if c.Model.APIKey == "" {
			return fmt.Errorf("model.api_key is required when model.provider is gemini")
		}
		if c.Model.Model == "" {
			return fmt.Errorf("model.model is required when model.provider is gemini")
		}
	default:
		return fmt.Errorf("model.provider must be %q or %q, got %q", "gemini", "scripted", c.Model.Provider)
	}

	if c.Plans.MaxToolTurns < 1 {
		return fmt.Errorf("plans.max_tool_turns must be at least 1")
	}

	if c.Tools.MaxRetries < 0 {
		return fmt.Errorf("tools.max_retries cannot be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Plans.AttachDebounceRaw != "" {
		cfg.Plans.AttachDebounce, err = time.ParseDuration(cfg.Plans.AttachDebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing attach_debounce %q: %w", cfg.Plans.AttachDebounceRaw, err)
		}
	}

	if cfg.Plans.StepTimeoutRaw != "" {
		cfg.Plans.StepTimeout, err = time.ParseDuration(cfg.Plans.StepTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing step_timeout %q: %w", cfg.Plans.StepTimeoutRaw, err)
		}
	}

	if cfg.Tools.RetryBackoffRaw != "" {
		cfg.Tools.RetryBackoff, err = time.ParseDuration(cfg.Tools.RetryBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff %q: %w", cfg.Tools.RetryBackoffRaw, err)
		}
	}

	if cfg.Tools.InvokeTimeoutRaw != "" {
		cfg.Tools.InvokeTimeout, err = time.ParseDuration(cfg.Tools.InvokeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing invoke_timeout %q: %w", cfg.Tools.InvokeTimeoutRaw, err)
		}
	}

	return nil
}
