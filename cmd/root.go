// Package cmd provides the hanzo-mcp command-line interface.
//
// Commands:
//   - serve: start the MCP server on stdio (default when no command given)
//   - list-tools: print the enabled tool catalog and exit
//   - install-desktop: register this server with the Claude Desktop host
//   - version: print version information
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanzoai/hanzo-mcp/internal/config"
)

// flag values applied over the loaded configuration.
var (
	flagAllowPaths    []string
	flagName          string
	flagDisableWrite  bool
	flagDisableSearch bool
	flagEnableAgent   bool
	flagAgentModel    string
	flagLogLevel      string
	flagLogJSON       bool
)

var rootCmd = &cobra.Command{
	Use:   "hanzo-mcp",
	Short: "MCP tool server exposing local developer tools to an AI host",
	Long: `hanzo-mcp is a Model Context Protocol server that exposes file I/O,
code search, shell execution, file editing and background process
management to a host AI assistant over stdio.

Every filesystem and shell operation is confined to the configured
allowed paths. Running with no command starts the stdio server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute is the entry point called from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringArrayVarP(&flagAllowPaths, "allow-path", "p", nil,
		"directory root tools may access (repeatable; overrides HANZO_ALLOWED_PATHS)")
	pf.StringVar(&flagName, "name", "", "server display name")
	pf.BoolVar(&flagDisableWrite, "disable-write-tools", false,
		"remove write, edit and multi_edit from the catalog")
	pf.BoolVar(&flagDisableSearch, "disable-search-tools", false,
		"remove grep and search from the catalog")
	pf.BoolVar(&flagEnableAgent, "enable-agent", false,
		"expose dispatch_agent (requires ANTHROPIC_API_KEY)")
	pf.StringVar(&flagAgentModel, "agent-model", "", "model identifier for dispatch_agent")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flagLogJSON, "log-json", false, "log to stderr in JSON format")
}

// loadConfig loads the file/env configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if len(flagAllowPaths) > 0 {
		cfg.AllowedPaths = flagAllowPaths
	}
	if flagName != "" {
		cfg.ServerName = flagName
	}
	if flagDisableWrite {
		cfg.DisableWriteTools = true
	}
	if flagDisableSearch {
		cfg.DisableSearchTools = true
	}
	if flagEnableAgent {
		cfg.EnableAgent = true
	}
	if flagAgentModel != "" {
		cfg.AgentModel = flagAgentModel
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogJSON {
		cfg.LogJSON = true
	}
	return cfg, nil
}
