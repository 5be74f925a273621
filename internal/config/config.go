// Package config provides server configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Command-line flags (applied by the cmd package after Load)
//  2. Environment variables (HANZO_ALLOWED_PATHS, HANZO_LOG_LEVEL, ...)
//  3. Config file (~/.hanzo/mcp.yaml)
//  4. Default values
//
// The configuration directory itself (~/.hanzo) is placed on the path
// deny-list by default; the server must not be able to read or rewrite its
// own configuration through a tool call.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrNoAllowedPaths indicates that no allowed root was configured.
	ErrNoAllowedPaths = errors.New("no allowed paths configured")

	// ErrInvalidServerName indicates an empty or malformed server name.
	ErrInvalidServerName = errors.New("invalid server name")

	// ErrInvalidTimeout indicates a command timeout outside the accepted range.
	ErrInvalidTimeout = errors.New("invalid command timeout")

	// ErrAgentAPIKeyMissing indicates the agent was enabled without a provider key.
	ErrAgentAPIKeyMissing = errors.New("agent enabled but ANTHROPIC_API_KEY is not set")
)

// Defaults.
const (
	DefaultServerName       = "hanzo-mcp"
	DefaultCommandTimeoutMS = 30_000
	MaxCommandTimeoutMS     = 600_000
	DefaultAgentModel       = "claude-sonnet-4-5"
)

// Config holds the resolved server configuration. It is immutable once
// the server starts; tools hold read-only references.
type Config struct {
	// ServerName is the display name advertised in the initialize result.
	ServerName string `mapstructure:"server_name"`

	// AllowedPaths are the directory roots tools may touch.
	AllowedPaths []string `mapstructure:"allowed_paths"`

	// DisableWriteTools removes write, edit and multi_edit from the catalog.
	DisableWriteTools bool `mapstructure:"disable_write_tools"`

	// DisableSearchTools removes grep and search from the catalog.
	DisableSearchTools bool `mapstructure:"disable_search_tools"`

	// EnableAgent exposes the dispatch_agent tool. Requires an API key.
	EnableAgent bool `mapstructure:"enable_agent"`

	// AgentModel is the model identifier handed to the agent delegator.
	AgentModel string `mapstructure:"agent_model"`

	// AgentAPIKey is read from ANTHROPIC_API_KEY; never from the config file.
	AgentAPIKey string `mapstructure:"-"`

	// CommandTimeoutMS is the default run_command timeout in milliseconds.
	CommandTimeoutMS int `mapstructure:"command_timeout_ms"`

	// MaxCommandTimeoutMS caps the per-call timeout a client may request.
	MaxCommandTimeoutMS int `mapstructure:"max_command_timeout_ms"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogJSON switches stderr logging to JSON format.
	LogJSON bool `mapstructure:"log_json"`
}

// Dir returns the server's own configuration directory (~/.hanzo).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".hanzo"), nil
}

// Load reads configuration from the config file and environment.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("mcp")
	v.SetConfigType("yaml")
	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}

	v.SetDefault("server_name", DefaultServerName)
	v.SetDefault("allowed_paths", []string{})
	v.SetDefault("disable_write_tools", false)
	v.SetDefault("disable_search_tools", false)
	v.SetDefault("enable_agent", false)
	v.SetDefault("agent_model", DefaultAgentModel)
	v.SetDefault("command_timeout_ms", DefaultCommandTimeoutMS)
	v.SetDefault("max_command_timeout_ms", MaxCommandTimeoutMS)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetEnvPrefix("HANZO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("log_level")
	_ = v.BindEnv("log_json")
	_ = v.BindEnv("server_name")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// HANZO_ALLOWED_PATHS is comma-separated; CLI flags override it later.
	if env := os.Getenv("HANZO_ALLOWED_PATHS"); env != "" {
		cfg.AllowedPaths = splitPaths(env)
	}
	cfg.AgentAPIKey = os.Getenv("ANTHROPIC_API_KEY")

	return &cfg, nil
}

// Validate checks the configuration for a serve run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerName) == "" {
		return ErrInvalidServerName
	}
	if len(c.AllowedPaths) == 0 {
		return ErrNoAllowedPaths
	}
	if c.CommandTimeoutMS <= 0 || c.CommandTimeoutMS > c.MaxCommandTimeoutMS {
		return fmt.Errorf("%w: %d ms (max %d ms)", ErrInvalidTimeout, c.CommandTimeoutMS, c.MaxCommandTimeoutMS)
	}
	if c.EnableAgent && c.AgentAPIKey == "" {
		return ErrAgentAPIKeyMissing
	}
	return nil
}

// NormalizedPaths returns the allowed paths with ~ expanded, made absolute,
// deduplicated and with empty entries dropped.
func (c *Config) NormalizedPaths() ([]string, error) {
	seen := make(map[string]bool, len(c.AllowedPaths))
	out := make([]string, 0, len(c.AllowedPaths))
	for _, p := range c.AllowedPaths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == "~" || strings.HasPrefix(p, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("expanding %s: %w", p, err)
			}
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAllowedPaths
	}
	return out, nil
}

// splitPaths splits a comma-separated path list, trimming whitespace.
func splitPaths(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
