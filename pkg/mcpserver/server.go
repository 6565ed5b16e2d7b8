// Package mcpserver exposes a tool registry as an MCP server.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rokytory/winx-code-agent/internal/logging"
	"github.com/rokytory/winx-code-agent/internal/tool"
)

// Name is the server name reported during the MCP handshake.
const Name = "winx"

const instructions = `Tools to work in a local workspace: a persistent shell, file reads, SEARCH/REPLACE edits and resumable task context.
Always call initialize first. Modes restrict what the other tools may do.`

// NewServer creates an MCP server with one MCP tool per registry tool.
func NewServer(reg *tool.Registry, version string) *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(instructions),
		server.WithRecovery(),
	)

	for _, t := range reg.List() {
		mcpTool := mcp.NewToolWithRawSchema(t.ID(), t.Description(), t.Parameters())
		s.AddTool(mcpTool, handler(reg, t.ID()))
	}
	return s
}

// handler runs the named tool with the request arguments.
func handler(reg *tool.Registry, id string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		if string(input) == "null" {
			input = []byte(`{}`)
		}
		return toCallToolResult(reg.Run(ctx, id, input)), nil
	}
}

func toCallToolResult(res *tool.Result) *mcp.CallToolResult {
	content := []mcp.Content{mcp.NewTextContent(res.Text())}
	for _, a := range res.Attachments {
		content = append(content, mcp.NewImageContent(a.Data, a.MediaType))
	}
	return &mcp.CallToolResult{
		Content: content,
		IsError: res.IsError,
	}
}

// ServeStdio serves MCP over in and out until ctx is done or in closes.
// Log output never goes to out.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(log.New(logging.Component("mcp"), "", 0))
	return stdio.Listen(ctx, in, out)
}

// NewSSEServer serves MCP over server-sent events at baseURL.
func NewSSEServer(s *server.MCPServer, baseURL string) *server.SSEServer {
	return server.NewSSEServer(s, server.WithBaseURL(baseURL))
}
