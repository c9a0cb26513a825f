// Package config defines the chatbycard configuration schema and its
// viper-backed loading. Defaults are registered up front so a missing
// config file always yields a fully populated Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chatbycard/internal/logging"
)

// Config represents the complete chatbycard configuration
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	TUI      TUIConfig      `mapstructure:"tui"`
}

// ServiceConfig controls how the backend chat service is reached
type ServiceConfig struct {
	// BaseURL is the root of the backend API, without a trailing slash
	// (e.g., "http://localhost:8080")
	BaseURL string `mapstructure:"base_url"`
	// TimeoutSeconds is the per-request HTTP timeout. Streaming requests
	// use it as the connect timeout only.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ChatConfig controls single-question chat behavior
type ChatConfig struct {
	// Streaming selects the SSE streaming endpoint over the blocking
	// completions endpoint (default: true)
	Streaming bool `mapstructure:"streaming"`
	// DisableDelays skips the cosmetic per-step pacing delays.
	// Useful for scripting and tests.
	DisableDelays bool `mapstructure:"disable_delays"`
}

// WorkflowConfig controls multi-node workflow execution
type WorkflowConfig struct {
	// NodeDelayMs is the pause between consecutive agent nodes (default: 500)
	NodeDelayMs int `mapstructure:"node_delay_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for log files. Empty means log to stderr.
	Dir string `mapstructure:"dir"`
}

// TUIConfig controls the terminal UI behavior
type TUIConfig struct {
	// Theme is the color theme for the TUI (default: "default")
	Theme string `mapstructure:"theme"`
	// MaxOutputLines limits how many response lines the viewport retains
	MaxOutputLines int `mapstructure:"max_output_lines"`
}

// NodeDelay returns the inter-node pause as a time.Duration
func (w *WorkflowConfig) NodeDelay() time.Duration {
	return time.Duration(w.NodeDelayMs) * time.Millisecond
}

// Timeout returns the HTTP timeout as a time.Duration
func (s *ServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 60,
		},
		Chat: ChatConfig{
			Streaming:     true,
			DisableDelays: false,
		},
		Workflow: WorkflowConfig{
			NodeDelayMs: 500,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "",
		},
		TUI: TUIConfig{
			Theme:          "default",
			MaxOutputLines: 1000,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("service.base_url", defaults.Service.BaseURL)
	viper.SetDefault("service.timeout_seconds", defaults.Service.TimeoutSeconds)

	viper.SetDefault("chat.streaming", defaults.Chat.Streaming)
	viper.SetDefault("chat.disable_delays", defaults.Chat.DisableDelays)

	viper.SetDefault("workflow.node_delay_ms", defaults.Workflow.NodeDelayMs)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	viper.SetDefault("tui.theme", defaults.TUI.Theme)
	viper.SetDefault("tui.max_output_lines", defaults.TUI.MaxOutputLines)
}

// Validate checks the configuration for invalid values.
// Returns a list of all problems found, empty if the config is valid.
func (c *Config) Validate() []error {
	var errs []error

	if strings.TrimSpace(c.Service.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("service.base_url must not be empty"))
	}
	if c.Service.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("service.timeout_seconds must be positive, got %d", c.Service.TimeoutSeconds))
	}
	if c.Workflow.NodeDelayMs < 0 {
		errs = append(errs, fmt.Errorf("workflow.node_delay_ms must not be negative, got %d", c.Workflow.NodeDelayMs))
	}
	if !validLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of %s, got %q",
			strings.Join(logging.ValidLevels(), "|"), c.Logging.Level))
	}
	return errs
}

func validLevel(level string) bool {
	for _, valid := range logging.ValidLevels() {
		if strings.EqualFold(level, valid) {
			return true
		}
	}
	return false
}

// ValidationErrors aggregates config validation failures into one error
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "chatbycard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatbycard"
	}
	return filepath.Join(home, ".config", "chatbycard")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
