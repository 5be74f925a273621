package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hanzoai/hanzo-mcp/internal/tools"
)

// resultToMCP converts a tools.Result into the MCP tool-result envelope.
// Failures become isError=true with a "[CODE] message" text part; the
// taxonomy code lets the model distinguish a permission problem from a
// missing file without parsing prose.
func resultToMCP(result tools.Result) *mcp.CallToolResult {
	if result.IsError() {
		text := fmt.Sprintf("[%s] %s", result.Error.Code, result.Error.Message)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
			IsError: true,
		}
	}

	switch data := result.Data.(type) {
	case nil:
		return textResult(result.Message)
	case string:
		if data == "" {
			return textResult(result.Message)
		}
		return textResult(data)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "[INTERNAL] failed to encode result"}},
				IsError: true,
			}
		}
		return textResult(string(b))
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
