package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDesktopConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := desktopConfigPath()
	if err != nil {
		t.Fatalf("desktopConfigPath() unexpected error: %v", err)
	}
	if !strings.HasSuffix(path, "claude_desktop_config.json") {
		t.Errorf("path = %q", path)
	}
	if runtime.GOOS == "linux" && !strings.Contains(path, ".config/Claude") {
		t.Errorf("linux path = %q, want under .config/Claude", path)
	}
}

func TestRunInstallDesktop_PreservesExistingServers(t *testing.T) {
	resetFlags(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("HANZO_ALLOWED_PATHS", "")

	configPath, err := desktopConfigPath()
	if err != nil {
		t.Fatalf("desktopConfigPath: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	existing := `{"mcpServers":{"other":{"command":"/usr/bin/other"}}}`
	if err := os.WriteFile(configPath, []byte(existing), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	project := t.TempDir()
	flagAllowPaths = []string{project}

	if err := runInstallDesktop(nil, nil); err != nil {
		t.Fatalf("runInstallDesktop() unexpected error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("config is not valid JSON: %v", err)
	}
	servers, _ := doc["mcpServers"].(map[string]any)
	if servers == nil {
		t.Fatal("mcpServers missing")
	}
	if _, ok := servers["other"]; !ok {
		t.Error("existing server entry was dropped")
	}
	entry, ok := servers["hanzo-mcp"].(map[string]any)
	if !ok {
		t.Fatalf("hanzo-mcp entry missing: %v", servers)
	}
	args, _ := entry["args"].([]any)
	joined := make([]string, 0, len(args))
	for _, a := range args {
		joined = append(joined, a.(string))
	}
	if joined[0] != "serve" {
		t.Errorf("args = %v, want serve first", joined)
	}
	if !strings.Contains(strings.Join(joined, " "), project) {
		t.Errorf("args missing the allowed path: %v", joined)
	}
}
