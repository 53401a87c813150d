// Package mcp serves the gateway's tool catalog to local MCP clients
// over stdio. The same registry that answers the cloud broker answers
// here, so a desktop assistant sees exactly the tools the broker sees.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/urmzd/watchgate/pkg/tools"
)

// Server wraps the MCP server around the gateway's tool registry
type Server struct {
	mcpServer *server.MCPServer
	executor  tools.Executor
}

// NewServer creates a new MCP server exposing the executor's catalog
func NewServer(executor tools.Executor) *Server {
	s := &Server{
		executor: executor,
	}

	// Create MCP server
	s.mcpServer = server.NewMCPServer(
		"watchgate",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register all tools
	s.registerTools()

	return s
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// registerTools mirrors the registry catalog into the MCP server. The
// catalog's raw JSON schemas pass through untouched.
func (s *Server) registerTools() {
	for _, t := range s.executor.Tools() {
		s.mcpServer.AddTool(
			mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema),
			s.makeHandler(t.Name),
		)
	}
}

func (s *Server) makeHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := s.executor.Execute(ctx, name, request.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %s", name, err)), nil
		}
		return mcp.NewToolResultText(formatResult(result)), nil
	}
}

func formatResult(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "ok"
	default:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
