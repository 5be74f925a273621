package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hanzoai/hanzo-mcp/internal/config"
	"github.com/hanzoai/hanzo-mcp/internal/log"
	"github.com/hanzoai/hanzo-mcp/internal/security"
	"github.com/hanzoai/hanzo-mcp/internal/tools"
)

// SystemPromptURI is the stable URI of the system-prompt resource.
const SystemPromptURI = "hanzo://system-prompt"

// Config holds everything needed to assemble a server.
type Config struct {
	Name    string
	Version string
	Logger  log.Logger

	// AllowedPaths are normalized absolute roots (config.NormalizedPaths).
	AllowedPaths []string

	DisableWriteTools  bool
	DisableSearchTools bool

	EnableAgent bool
	AgentAPIKey string
	AgentModel  string

	CommandTimeout    time.Duration
	MaxCommandTimeout time.Duration
}

// Server owns the SDK server, the tool registry and the permission policy.
type Server struct {
	mcpServer *mcp.Server
	registry  *tools.Registry
	pathVal   *security.Path
	name      string
	version   string
	logger    log.Logger
}

// NewServer builds the permission policy, the toolsets and the registry
// from configuration, and registers every enabled tool plus the
// system-prompt resource with the SDK server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if len(cfg.AllowedPaths) == 0 {
		return nil, fmt.Errorf("at least one allowed path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = config.DefaultCommandTimeoutMS * time.Millisecond
	}
	if cfg.MaxCommandTimeout < cfg.CommandTimeout {
		cfg.MaxCommandTimeout = config.MaxCommandTimeoutMS * time.Millisecond
	}

	// The server's own configuration directory is always off limits.
	pathOpts := []security.PathOption{}
	if confDir, err := config.Dir(); err == nil {
		pathOpts = append(pathOpts,
			security.WithDenyPatterns(filepath.ToSlash(confDir), filepath.ToSlash(confDir)+"/**"))
	}
	pathVal, err := security.NewPath(cfg.AllowedPaths, pathOpts...)
	if err != nil {
		return nil, fmt.Errorf("building path policy: %w", err)
	}
	cmdVal, err := security.NewCommand(pathVal)
	if err != nil {
		return nil, fmt.Errorf("building command policy: %w", err)
	}

	registry := tools.NewRegistry(logger.With("component", "registry"))

	searchTools, err := tools.NewSearchTools(pathVal, logger.With("component", "search"))
	if err != nil {
		return nil, fmt.Errorf("creating search tools: %w", err)
	}
	fileTools, err := tools.NewFileTools(pathVal, searchTools, logger.With("component", "file"))
	if err != nil {
		return nil, fmt.Errorf("creating file tools: %w", err)
	}
	shellTools, err := tools.NewShellTools(pathVal, cmdVal, cfg.CommandTimeout, cfg.MaxCommandTimeout, logger.With("component", "shell"))
	if err != nil {
		return nil, fmt.Errorf("creating shell tools: %w", err)
	}
	supervisor, err := tools.NewSupervisor(pathVal, cmdVal, logger.With("component", "supervisor"))
	if err != nil {
		return nil, fmt.Errorf("creating process supervisor: %w", err)
	}

	descriptors := fileTools.Descriptors(!cfg.DisableWriteTools)
	if !cfg.DisableWriteTools {
		editTools, err := tools.NewEditTools(pathVal, logger.With("component", "edit"))
		if err != nil {
			return nil, fmt.Errorf("creating edit tools: %w", err)
		}
		descriptors = append(descriptors, editTools.Descriptors()...)
	}
	if !cfg.DisableSearchTools {
		descriptors = append(descriptors, searchTools.Descriptors()...)
	}
	descriptors = append(descriptors, shellTools.Descriptors()...)
	descriptors = append(descriptors, supervisor.Descriptors()...)
	descriptors = append(descriptors, tools.ThinkDescriptor())

	if cfg.EnableAgent {
		agentTools, err := tools.NewAgentTools(registry, cfg.AgentAPIKey, cfg.AgentModel, logger.With("component", "agent"))
		if err != nil {
			return nil, fmt.Errorf("creating agent tools: %w", err)
		}
		descriptors = append(descriptors, agentTools.Descriptors()...)
	}

	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return nil, fmt.Errorf("registering tools: %w", err)
		}
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		registry:  registry,
		pathVal:   pathVal,
		name:      cfg.Name,
		version:   cfg.Version,
		logger:    logger,
	}

	// Advertise every enabled tool and keep the SDK list in sync with
	// later tool_enable/tool_disable calls.
	for _, d := range registry.Enabled() {
		s.addToolToSDK(d)
	}
	registry.SetNotify(s.onToolStateChange)

	s.registerSystemPromptResource()

	return s, nil
}

// Registry exposes the tool registry (used by list-tools and tests).
func (s *Server) Registry() *tools.Registry {
	return s.registry
}

// Run serves MCP on the given transport until the context is canceled or
// the client disconnects. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server running",
		"name", s.name, "version", s.version, "roots", s.pathVal.Roots())
	return s.mcpServer.Run(ctx, transport)
}

// Connect attaches one transport and returns its session (used by tests
// and by hosts that manage several sessions).
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, transport, nil)
}

// addToolToSDK registers a descriptor with the SDK server. The SDK's
// low-level AddTool performs no argument validation; the registry's Call
// path owns that, so schema violations surface as isError envelopes
// rather than protocol errors.
func (s *Server) addToolToSDK(d *tools.Descriptor) {
	name := d.Name
	s.mcpServer.AddTool(&mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.Schema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callID := uuid.NewString()[:8]
		started := time.Now()
		result := s.registry.Call(ctx, name, req.Params.Arguments)
		s.logger.Debug("tools/call",
			"tool", name, "call_id", callID,
			"is_error", result.IsError(), "duration", time.Since(started))
		return resultToMCP(result), nil
	})
}

// onToolStateChange mirrors registry enable/disable into the SDK server,
// which notifies connected clients that the tool list changed.
func (s *Server) onToolStateChange(name string, enabled bool) {
	if enabled {
		if d, _, ok := s.registry.Lookup(name); ok {
			s.addToolToSDK(d)
		}
		return
	}
	s.mcpServer.RemoveTools(name)
}

// registerSystemPromptResource exposes the environment description at a
// stable URI. The text is reassembled on every read.
func (s *Server) registerSystemPromptResource() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         SystemPromptURI,
		Name:        "system-prompt",
		Description: "Environment, project and tool-inventory summary for the host assistant.",
		MIMEType:    "text/plain",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		text := assembleSystemPrompt(s.name, s.version, s.pathVal.Roots(), s.registry)
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      SystemPromptURI,
				MIMEType: "text/plain",
				Text:     text,
			}},
		}, nil
	})
}
