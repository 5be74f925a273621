package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"

	"github.com/hanzoai/hanzo-mcp/internal/log"
)

// Delegation caps: a runaway worker is cut off after this many model
// iterations or tool calls, whichever comes first.
const (
	agentMaxIterations = 10
	agentMaxToolCalls  = 30
	agentMaxTokens     = 4096
)

// workerTools is the pre-declared read-only subset a delegated worker may
// call. dispatch_agent itself is excluded, so a worker cannot recurse.
var workerTools = []string{"read", "list", "tree", "find", "grep", "search", "info", "think"}

// workerSystemPrompt frames the constrained worker.
const workerSystemPrompt = `You are a read-only research worker inside a development tool server.
Use the available tools to investigate the task you are given, then reply
with a single, complete answer. You cannot modify files or run commands.
Be concise and cite the paths you examined.`

// AgentTools provides the dispatch_agent tool: it spawns a constrained
// LLM worker that re-invokes the tool registry with a read-only subset.
type AgentTools struct {
	registry *Registry
	client   anthropic.Client
	limiter  *rate.Limiter
	model    string
	logger   log.Logger
}

// NewAgentTools creates the delegation toolset. The limiter paces provider
// calls across concurrent delegations.
func NewAgentTools(registry *Registry, apiKey, model string, logger log.Logger) (*AgentTools, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &AgentTools{
		registry: registry,
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 2),
		model:    model,
		logger:   logger,
	}, nil
}

// Descriptors returns the agent tool descriptors.
func (a *AgentTools) Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name: "dispatch_agent",
			Description: "Delegate a research task to a constrained sub-agent with " +
				"read-only access to the file and search tools. Returns the agent's " +
				"final answer as text.",
			Category: CategoryAgent,
			Schema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"prompt": {Type: "string", Description: "Task description for the worker"},
					"model":  {Type: "string", Description: "Override the configured model identifier"},
				},
				Required: []string{"prompt"},
			},
			Handler: a.Dispatch,
		},
	}
}

// Dispatch runs the delegated worker loop.
func (a *AgentTools) Dispatch(ctx context.Context, args map[string]any) Result {
	prompt := argString(args, "prompt")
	model := argStringDefault(args, "model", a.model)
	if strings.TrimSpace(prompt) == "" {
		return Errorf(ErrCodeValidation, "prompt cannot be empty")
	}
	a.logger.Info("dispatch_agent", "model", model)

	toolParams, err := a.workerToolParams()
	if err != nil {
		return Errorf(ErrCodeInternal, "building worker tool list: %v", err)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}

	var transcript strings.Builder
	toolCalls := 0

	for iteration := 0; iteration < agentMaxIterations; iteration++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return Errorf(ErrCodeInternal, "delegation canceled: %v", err)
		}

		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: agentMaxTokens,
			System: []anthropic.TextBlockParam{
				{Text: workerSystemPrompt},
			},
			Messages: messages,
			Tools:    toolParams,
		})
		if err != nil {
			return Errorf(ErrCodeExternal, "provider call failed: %v", err)
		}

		for _, block := range msg.Content {
			if block.Type == "text" {
				transcript.WriteString(block.Text)
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse {
			break
		}

		messages = append(messages, msg.ToParam())
		var results []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			if block.Type != "tool_use" {
				continue
			}
			toolUse := block.AsToolUse()
			toolCalls++
			if toolCalls > agentMaxToolCalls {
				return Success(
					fmt.Sprintf("agent stopped at the %d tool-call limit", agentMaxToolCalls),
					transcript.String()+fmt.Sprintf("\n\n[stopped: reached the %d tool-call limit]", agentMaxToolCalls),
				)
			}

			text, isError := a.callWorkerTool(ctx, toolUse.Name, json.RawMessage(toolUse.Input))
			results = append(results, anthropic.NewToolResultBlock(toolUse.ID, text, isError))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	out := strings.TrimSpace(transcript.String())
	if out == "" {
		out = "[agent produced no output]"
	}
	return Success(fmt.Sprintf("agent finished after %d tool call(s)", toolCalls), out)
}

// callWorkerTool dispatches one worker tool call, enforcing the subset.
func (a *AgentTools) callWorkerTool(ctx context.Context, name string, input json.RawMessage) (string, bool) {
	if !workerToolAllowed(name) {
		return fmt.Sprintf("tool %s is not available to delegated agents", name), true
	}
	result := a.registry.Call(ctx, name, input)
	if result.IsError() {
		return fmt.Sprintf("[%s] %s", result.Error.Code, result.Error.Message), true
	}
	return result.Text(), false
}

func workerToolAllowed(name string) bool {
	for _, allowed := range workerTools {
		if name == allowed {
			return true
		}
	}
	return false
}

// workerToolParams renders the allowed subset as Anthropic tool params.
// Tools missing from the registry (search disabled, for example) are
// skipped rather than advertised and failed later.
func (a *AgentTools) workerToolParams() ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(workerTools))
	for _, name := range workerTools {
		d, enabled, ok := a.registry.Lookup(name)
		if !ok || !enabled {
			continue
		}

		props, err := schemaProperties(d.Schema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: param.NewOpt(d.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   d.Schema.Required,
				},
			},
		})
	}
	return out, nil
}

// schemaProperties converts a jsonschema property map to the loose shape
// the provider SDK expects.
func schemaProperties(s *jsonschema.Schema) (map[string]any, error) {
	if s == nil || len(s.Properties) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(s.Properties)
	if err != nil {
		return nil, err
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}
