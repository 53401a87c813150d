// Package tools defines the automation tool contract and the registry
// that dispatches named tool calls. Tools are the local capabilities the
// gateway exposes to the remote broker and to local MCP clients.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrUnknownTool indicates a call for a name no tool is registered under.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments indicates the arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Tool describes one callable capability.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Handler executes a tool call. The returned value is JSON-encodable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Executor is the automation-tool collaborator contract: a declared tool
// catalog plus execution by name.
type Executor interface {
	// Tools returns the static tool catalog.
	Tools() []Tool

	// Execute dispatches a named tool call with the given arguments.
	Execute(ctx context.Context, name string, args map[string]any) (any, error)
}
