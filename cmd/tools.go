package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/mcp"
)

var listToolsCmd = &cobra.Command{
	Use:   "list-tools",
	Short: "Print the enabled tool catalog and exit",
	RunE:  runListTools,
}

func init() {
	rootCmd.AddCommand(listToolsCmd)
}

func runListTools(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	paths, err := cfg.NormalizedPaths()
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(mcp.Config{
		Name:               cfg.ServerName,
		Version:            Version,
		Logger:             log.NewNop(),
		AllowedPaths:       paths,
		DisableWriteTools:  cfg.DisableWriteTools,
		DisableSearchTools: cfg.DisableSearchTools,
		EnableAgent:        cfg.EnableAgent,
		AgentAPIKey:        cfg.AgentAPIKey,
		AgentModel:         cfg.AgentModel,
		CommandTimeout:     time.Duration(cfg.CommandTimeoutMS) * time.Millisecond,
		MaxCommandTimeout:  time.Duration(cfg.MaxCommandTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	for _, d := range server.Registry().Enabled() {
		fmt.Printf("%-20s [%s] %s\n", d.Name, d.Category, d.Description)
	}
	return nil
}
