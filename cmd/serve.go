package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe loads configuration, builds the server and serves stdio until
// the host closes the stream or a signal arrives.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	paths, err := cfg.NormalizedPaths()
	if err != nil {
		return fmt.Errorf("resolving allowed paths: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server, err := mcp.NewServer(mcp.Config{
		Name:               cfg.ServerName,
		Version:            Version,
		Logger:             logger,
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
		return fmt.Errorf("creating MCP server: %w", err)
	}

	logger.Info("MCP server ready",
		"name", cfg.ServerName, "version", Version, "transport", "stdio", "roots", paths)

	if err := server.Run(ctx, &mcpSdk.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	logger.Info("MCP server shut down")
	return nil
}
