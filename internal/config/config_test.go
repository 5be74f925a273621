package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		ServerName:          DefaultServerName,
		AllowedPaths:        []string{"/tmp/proj"},
		AgentModel:          DefaultAgentModel,
		CommandTimeoutMS:    DefaultCommandTimeoutMS,
		MaxCommandTimeoutMS: MaxCommandTimeoutMS,
		LogLevel:            "info",
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HANZO_ALLOWED_PATHS", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	// Point HOME at an empty directory so a developer's real config file
	// cannot leak into the test.
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.ServerName != DefaultServerName {
		t.Errorf("ServerName = %q, want %q", cfg.ServerName, DefaultServerName)
	}
	if cfg.CommandTimeoutMS != DefaultCommandTimeoutMS {
		t.Errorf("CommandTimeoutMS = %d, want %d", cfg.CommandTimeoutMS, DefaultCommandTimeoutMS)
	}
	if cfg.EnableAgent {
		t.Error("EnableAgent should default to false")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_AllowedPathsFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HANZO_ALLOWED_PATHS", "/tmp/a, /tmp/b ,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	want := []string{"/tmp/a", "/tmp/b"}
	if len(cfg.AllowedPaths) != len(want) {
		t.Fatalf("AllowedPaths = %v, want %v", cfg.AllowedPaths, want)
	}
	for i := range want {
		if cfg.AllowedPaths[i] != want[i] {
			t.Errorf("AllowedPaths[%d] = %q, want %q", i, cfg.AllowedPaths[i], want[i])
		}
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HANZO_ALLOWED_PATHS", "")

	dir := filepath.Join(home, ".hanzo")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	yaml := "server_name: custom-mcp\ndisable_write_tools: true\nallowed_paths:\n  - /tmp/proj\n"
	if err := os.WriteFile(filepath.Join(dir, "mcp.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.ServerName != "custom-mcp" {
		t.Errorf("ServerName = %q, want custom-mcp", cfg.ServerName)
	}
	if !cfg.DisableWriteTools {
		t.Error("DisableWriteTools should be true from config file")
	}
	if len(cfg.AllowedPaths) != 1 || cfg.AllowedPaths[0] != "/tmp/proj" {
		t.Errorf("AllowedPaths = %v, want [/tmp/proj]", cfg.AllowedPaths)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(c *Config) {}, nil},
		{"no paths", func(c *Config) { c.AllowedPaths = nil }, ErrNoAllowedPaths},
		{"empty name", func(c *Config) { c.ServerName = "  " }, ErrInvalidServerName},
		{"zero timeout", func(c *Config) { c.CommandTimeoutMS = 0 }, ErrInvalidTimeout},
		{"excessive timeout", func(c *Config) { c.CommandTimeoutMS = MaxCommandTimeoutMS + 1 }, ErrInvalidTimeout},
		{"agent without key", func(c *Config) { c.EnableAgent = true }, ErrAgentAPIKeyMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizedPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := validConfig()
	cfg.AllowedPaths = []string{"/tmp/a", "/tmp/a", " ", "~/code"}

	got, err := cfg.NormalizedPaths()
	if err != nil {
		t.Fatalf("NormalizedPaths() unexpected error: %v", err)
	}
	want := []string{"/tmp/a", filepath.Join(home, "code")}
	if len(got) != len(want) {
		t.Fatalf("NormalizedPaths() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizedPaths()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
