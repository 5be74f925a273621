package mcp

import (
	"testing"

	"github.com/hanzoai/hanzo-mcp/internal/log"
)

func TestNewServer_Validation(t *testing.T) {
	valid, _ := testServerConfig(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"empty version", func(c *Config) { c.Version = "" }},
		{"no allowed paths", func(c *Config) { c.AllowedPaths = nil }},
		{"missing root", func(c *Config) { c.AllowedPaths = []string{"/no/such/dir/at/all"} }},
		{"agent without key", func(c *Config) { c.EnableAgent = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); err == nil {
				t.Errorf("NewServer(%s) expected error, got nil", tt.name)
			}
		})
	}
}

func TestNewServer_NilLoggerTolerated(t *testing.T) {
	cfg, _ := testServerConfig(t)
	cfg.Logger = nil
	if _, err := NewServer(cfg); err != nil {
		t.Fatalf("NewServer() with nil logger unexpected error: %v", err)
	}
}

func TestServer_RegistryAccessor(t *testing.T) {
	cfg, _ := testServerConfig(t)
	cfg.Logger = log.NewNop()
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	enabled := server.Registry().Enabled()
	if len(enabled) == 0 {
		t.Fatal("Registry() returned no enabled tools")
	}
}

func TestNewServer_AgentToolRequiresOptIn(t *testing.T) {
	cfg, _ := testServerConfig(t)
	cfg.EnableAgent = true
	cfg.AgentAPIKey = "test-key"
	cfg.AgentModel = "claude-sonnet-4-5"

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	if _, enabled, ok := server.Registry().Lookup("dispatch_agent"); !ok || !enabled {
		t.Error("dispatch_agent should be registered and enabled when opted in")
	}
}
