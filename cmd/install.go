package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install-desktop",
	Short: "Register this server in the Claude Desktop configuration",
	Long: `Writes (or updates) the Claude Desktop configuration file so the host
launches this binary as an MCP server. Existing entries for other servers
are preserved.`,
	RunE: runInstallDesktop,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

// desktopConfigPath returns the host's well-known configuration location.
func desktopConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Claude", "claude_desktop_config.json"), nil
	default:
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json"), nil
	}
}

func runInstallDesktop(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	paths, err := cfg.NormalizedPaths()
	if err != nil {
		return fmt.Errorf("at least one --allow-path is required: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	configPath, err := desktopConfigPath()
	if err != nil {
		return err
	}

	// Preserve whatever else is in the host configuration.
	doc := map[string]any{}
	if data, err := os.ReadFile(configPath); err == nil { // #nosec G304 -- well-known host path
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("existing config at %s is not valid JSON: %w", configPath, err)
		}
	}

	servers, _ := doc["mcpServers"].(map[string]any)
	if servers == nil {
		servers = map[string]any{}
	}

	args := []string{"serve"}
	for _, p := range paths {
		args = append(args, "--allow-path", p)
	}
	servers[cfg.ServerName] = map[string]any{
		"command": executable,
		"args":    args,
	}
	doc["mcpServers"] = servers

	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}

	fmt.Printf("Registered %q in %s\n", cfg.ServerName, configPath)
	return nil
}
