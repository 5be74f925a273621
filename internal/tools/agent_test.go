package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hanzoai/hanzo-mcp/internal/log"
)

func newTestAgentTools(t *testing.T) (*AgentTools, *Registry) {
	t.Helper()
	r := NewRegistry(log.NewNop())
	a, err := NewAgentTools(r, "test-key", "claude-sonnet-4-5", log.NewNop())
	if err != nil {
		t.Fatalf("NewAgentTools: %v", err)
	}
	return a, r
}

func TestNewAgentTools_Validation(t *testing.T) {
	r := NewRegistry(log.NewNop())

	tests := []struct {
		name     string
		registry *Registry
		key      string
		model    string
	}{
		{"nil registry", nil, "k", "m"},
		{"empty key", r, "", "m"},
		{"empty model", r, "k", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAgentTools(tt.registry, tt.key, tt.model, log.NewNop()); err == nil {
				t.Errorf("NewAgentTools(%s) expected error, got nil", tt.name)
			}
		})
	}
}

func TestWorkerToolAllowed(t *testing.T) {
	for _, name := range workerTools {
		if !workerToolAllowed(name) {
			t.Errorf("workerToolAllowed(%s) = false, want true", name)
		}
	}
	for _, name := range []string{"write", "edit", "run_command", "kill_process", "dispatch_agent", "tool_disable"} {
		if workerToolAllowed(name) {
			t.Errorf("workerToolAllowed(%s) = true; mutating tools must stay out of the subset", name)
		}
	}
}

func TestCallWorkerTool(t *testing.T) {
	a, r := newTestAgentTools(t)
	ctx := context.Background()

	err := r.Register(Descriptor{
		Name:        "think",
		Description: "test think",
		Category:    CategorySystem,
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"thought": {Type: "string"},
			},
			Required: []string{"thought"},
		},
		Handler: func(_ context.Context, _ map[string]any) Result {
			return Success("ok", "Thought recorded.")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	t.Run("allowed tool", func(t *testing.T) {
		text, isError := a.callWorkerTool(ctx, "think", json.RawMessage(`{"thought":"x"}`))
		if isError {
			t.Fatalf("callWorkerTool(think) failed: %s", text)
		}
		if text != "Thought recorded." {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("tool outside the subset", func(t *testing.T) {
		text, isError := a.callWorkerTool(ctx, "run_command", json.RawMessage(`{"command":"ls"}`))
		if !isError {
			t.Fatal("run_command must be refused for workers")
		}
		if !strings.Contains(text, "not available") {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("registry errors propagate as tool errors", func(t *testing.T) {
		text, isError := a.callWorkerTool(ctx, "read", json.RawMessage(`{"path":"/x"}`))
		if !isError {
			t.Fatal("unregistered read should fail")
		}
		if !strings.Contains(text, "NOT_FOUND") {
			t.Errorf("text = %q", text)
		}
	})
}

func TestWorkerToolParams_SkipsMissingTools(t *testing.T) {
	a, r := newTestAgentTools(t)

	// Only think is registered; the params list must not advertise the
	// rest of the subset.
	if err := r.Register(ThinkDescriptor()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	params, err := a.workerToolParams()
	if err != nil {
		t.Fatalf("workerToolParams: %v", err)
	}
	if len(params) != 1 {
		t.Fatalf("workerToolParams() returned %d tools, want 1", len(params))
	}
	if params[0].OfTool.Name != "think" {
		t.Errorf("tool name = %q, want think", params[0].OfTool.Name)
	}
}

func TestSchemaProperties(t *testing.T) {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"path":  {Type: "string", Description: "a path"},
			"limit": {Type: "integer"},
		},
		Required: []string{"path"},
	}

	props, err := schemaProperties(schema)
	if err != nil {
		t.Fatalf("schemaProperties: %v", err)
	}
	pathProp, ok := props["path"].(map[string]any)
	if !ok {
		t.Fatalf("path property missing or wrong shape: %v", props)
	}
	if pathProp["type"] != "string" {
		t.Errorf("path type = %v, want string", pathProp["type"])
	}
	if _, ok := props["limit"]; !ok {
		t.Error("limit property missing")
	}

	empty, err := schemaProperties(&jsonschema.Schema{Type: "object"})
	if err != nil {
		t.Fatalf("schemaProperties(empty): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty schema should produce no properties: %v", empty)
	}
}
