package cmd

import (
	"testing"
)

// resetFlags restores the package flag state after a test mutates it.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		flagAllowPaths = nil
		flagName = ""
		flagDisableWrite = false
		flagDisableSearch = false
		flagEnableAgent = false
		flagAgentModel = ""
		flagLogLevel = ""
		flagLogJSON = false
	})
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HANZO_ALLOWED_PATHS", "/tmp/from-env")

	flagAllowPaths = []string{"/tmp/from-flag"}
	flagName = "renamed"
	flagDisableWrite = true
	flagLogLevel = "debug"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() unexpected error: %v", err)
	}

	// CLI flags take precedence over the environment.
	if len(cfg.AllowedPaths) != 1 || cfg.AllowedPaths[0] != "/tmp/from-flag" {
		t.Errorf("AllowedPaths = %v, want [/tmp/from-flag]", cfg.AllowedPaths)
	}
	if cfg.ServerName != "renamed" {
		t.Errorf("ServerName = %q, want renamed", cfg.ServerName)
	}
	if !cfg.DisableWriteTools {
		t.Error("DisableWriteTools should be set from flag")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadConfig_EnvFallback(t *testing.T) {
	resetFlags(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HANZO_ALLOWED_PATHS", "/tmp/from-env")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() unexpected error: %v", err)
	}
	if len(cfg.AllowedPaths) != 1 || cfg.AllowedPaths[0] != "/tmp/from-env" {
		t.Errorf("AllowedPaths = %v, want [/tmp/from-env]", cfg.AllowedPaths)
	}
}
