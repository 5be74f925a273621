package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// ThinkDescriptor returns the think tool: a structured scratchpad with no
// side effects. Recording the thought as a tool call keeps the reasoning
// step in the conversation without touching any resource.
func ThinkDescriptor() Descriptor {
	return Descriptor{
		Name: "think",
		Description: "Record a thought while working through a problem. Has no side " +
			"effects; use it to reason about tool output before acting on it.",
		Category: CategorySystem,
		Schema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"thought": {Type: "string", Description: "The thought to record"},
			},
			Required: []string{"thought"},
		},
		Handler: handleThink,
	}
}

func handleThink(_ context.Context, args map[string]any) Result {
	if argString(args, "thought") == "" {
		return Errorf(ErrCodeValidation, "thought cannot be empty")
	}
	return Success("thought recorded", "Thought recorded.")
}
