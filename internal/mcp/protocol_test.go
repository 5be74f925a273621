package mcp

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hanzoai/hanzo-mcp/internal/log"
)

// testServerConfig returns a server Config rooted at a fresh temp dir.
func testServerConfig(t *testing.T) (Config, string) {
	t.Helper()
	root := t.TempDir()
	real, err := filepath.EvalSymlinks(root)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	return Config{
		Name:         "hanzo-mcp",
		Version:      "0.0.0-test",
		Logger:       log.NewNop(),
		AllowedPaths: []string{real},
	}, real
}

// connectServer builds a server from cfg and an SDK client connected via
// in-memory transports. Both sessions are cleaned up via t.Cleanup.
func connectServer(t *testing.T, cfg Config) (*Server, *sdk.ClientSession) {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := sdk.NewInMemoryTransports()

	serverSession, err := server.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := sdk.NewClient(&sdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return server, clientSession
}

func callTool(t *testing.T, session *sdk.ClientSession, name string, args map[string]any) *sdk.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s) protocol error: %v", name, err)
	}
	return result
}

func listToolNames(t *testing.T, session *sdk.ClientSession) []string {
	t.Helper()
	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}
	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

func TestProtocol_ListTools(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	names := listToolNames(t, session)

	// The catalog must include the file I/O, edit, search and shell tools.
	for _, want := range []string{
		"read", "write", "edit", "multi_edit", "grep", "find", "search",
		"list", "tree", "info", "run_command", "run_background",
		"list_processes", "get_process_output", "kill_process",
		"tool_list", "tool_enable", "tool_disable", "think",
	} {
		found := false
		for _, got := range names {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("ListTools() missing %q\ngot: %v", want, names)
		}
	}

	// The agent tool must be absent unless explicitly enabled.
	for _, got := range names {
		if got == "dispatch_agent" {
			t.Error("dispatch_agent should not appear without --enable-agent")
		}
	}
}

func TestProtocol_ListTools_HaveDescriptionsAndSchemas(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}
	for _, tool := range result.Tools {
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("tool %q has no input schema", tool.Name)
		}
	}
}

func TestProtocol_PermissionDeniedRead(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	result := callTool(t, session, "read", map[string]any{"path": "/etc/passwd"})
	if !result.IsError {
		t.Fatal("read(/etc/passwd) should produce an error result")
	}
	text := textOf(t, result)
	if !strings.Contains(text, "/etc/passwd") {
		t.Errorf("error text missing the attempted path: %q", text)
	}
	if !strings.Contains(text, "allowed") {
		t.Errorf("error text should mention the policy: %q", text)
	}
}

func TestProtocol_ValidationErrorNamesField(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	// read requires path; omitting it must surface as an isError tool
	// result (not a protocol error) naming the field.
	result := callTool(t, session, "read", map[string]any{})
	if !result.IsError {
		t.Fatal("read without path should produce an error result")
	}
	if text := textOf(t, result); !strings.Contains(text, "path") {
		t.Errorf("validation error should name the field: %q", text)
	}
}

func TestProtocol_EditRoundTrip(t *testing.T) {
	cfg, root := testServerConfig(t)
	_, session := connectServer(t, cfg)

	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello world\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result := callTool(t, session, "edit", map[string]any{
		"path":     path,
		"old_text": "world",
		"new_text": "there",
	})
	if result.IsError {
		t.Fatalf("edit failed: %s", textOf(t, result))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello there\n" {
		t.Errorf("file = %q, want %q", data, "hello there\n")
	}
}

func TestProtocol_UnknownTool(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	// The SDK rejects unknown tools at the protocol layer; either shape
	// is acceptable to a client, but the call must not succeed silently.
	result, err := session.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      "no_such_tool",
		Arguments: map[string]any{},
	})
	if err == nil && !result.IsError {
		t.Fatal("calling an unknown tool must fail one way or the other")
	}
}

func TestProtocol_DisableRemovesTool(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	disable := callTool(t, session, "tool_disable", map[string]any{"name": "grep"})
	if disable.IsError {
		t.Fatalf("tool_disable failed: %s", textOf(t, disable))
	}

	names := listToolNames(t, session)
	for _, got := range names {
		if got == "grep" {
			t.Errorf("grep still advertised after disable: %v", names)
		}
	}

	enable := callTool(t, session, "tool_enable", map[string]any{"name": "grep"})
	if enable.IsError {
		t.Fatalf("tool_enable failed: %s", textOf(t, enable))
	}
	found := false
	for _, got := range listToolNames(t, session) {
		if got == "grep" {
			found = true
		}
	}
	if !found {
		t.Error("grep not advertised after re-enable")
	}
}

func TestProtocol_MetaToolsAlwaysEnabled(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	for _, name := range []string{"tool_list", "tool_enable", "tool_disable"} {
		result := callTool(t, session, "tool_disable", map[string]any{"name": name})
		if !result.IsError {
			t.Errorf("tool_disable(%s) should fail", name)
		}
	}

	listResult := callTool(t, session, "tool_list", map[string]any{})
	text := textOf(t, listResult)
	for _, name := range []string{"tool_list", "tool_enable", "tool_disable"} {
		if !strings.Contains(text, name) {
			t.Errorf("tool_list output missing %s", name)
		}
	}
}

func TestProtocol_WriteToolsCanBeDisabledByConfig(t *testing.T) {
	cfg, _ := testServerConfig(t)
	cfg.DisableWriteTools = true
	_, session := connectServer(t, cfg)

	names := listToolNames(t, session)
	for _, banned := range []string{"write", "edit", "multi_edit"} {
		for _, got := range names {
			if got == banned {
				t.Errorf("%s advertised despite DisableWriteTools", banned)
			}
		}
	}
	// Read-only tools stay.
	found := false
	for _, got := range names {
		if got == "read" {
			found = true
		}
	}
	if !found {
		t.Error("read missing from catalog")
	}
}

func TestProtocol_SearchToolsCanBeDisabledByConfig(t *testing.T) {
	cfg, _ := testServerConfig(t)
	cfg.DisableSearchTools = true
	_, session := connectServer(t, cfg)

	names := listToolNames(t, session)
	for _, banned := range []string{"grep", "search"} {
		for _, got := range names {
			if got == banned {
				t.Errorf("%s advertised despite DisableSearchTools", banned)
			}
		}
	}
}

func TestProtocol_SystemPromptResource(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	listed, err := session.ListResources(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListResources() unexpected error: %v", err)
	}
	found := false
	for _, r := range listed.Resources {
		if r.URI == SystemPromptURI {
			found = true
		}
	}
	if !found {
		t.Fatalf("system prompt resource not listed: %+v", listed.Resources)
	}

	read, err := session.ReadResource(context.Background(), &sdk.ReadResourceParams{URI: SystemPromptURI})
	if err != nil {
		t.Fatalf("ReadResource() unexpected error: %v", err)
	}
	if len(read.Contents) != 1 {
		t.Fatalf("ReadResource() returned %d contents, want 1", len(read.Contents))
	}
	text := read.Contents[0].Text
	for _, want := range []string{"hanzo-mcp", "Enabled tools", "read", "Usage guidance"} {
		if !strings.Contains(text, want) {
			t.Errorf("system prompt missing %q:\n%s", want, text)
		}
	}
}

func TestProtocol_RunCommand(t *testing.T) {
	cfg, _ := testServerConfig(t)
	_, session := connectServer(t, cfg)

	result := callTool(t, session, "run_command", map[string]any{"command": "echo protocol-ok"})
	if result.IsError {
		t.Fatalf("run_command failed: %s", textOf(t, result))
	}
	if text := textOf(t, result); !strings.Contains(text, "protocol-ok") {
		t.Errorf("run_command output = %q", text)
	}
}
