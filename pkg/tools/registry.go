package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry maps tool names to handlers. It is built once at startup and
// read-only afterwards; lookups never fall back to reflection.
type Registry struct {
	order    []string
	tools    map[string]Tool
	handlers map[string]Handler

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		handlers: make(map[string]Handler),
		cache:    make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool and its handler. Registering the same name twice
// replaces the handler but keeps the original catalog position.
func (r *Registry) Register(tool Tool, handler Handler) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.handlers[tool.Name] = handler
}

// Tools returns the catalog in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute validates args against the tool's input schema and dispatches.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := r.validate(tool.InputSchema, args); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArguments, err)
	}

	return r.handlers[name](ctx, args)
}

func (r *Registry) validate(schemaDoc json.RawMessage, payload map[string]any) error {
	if len(schemaDoc) == 0 || string(schemaDoc) == "{}" || string(schemaDoc) == "null" {
		return nil
	}

	compiled, err := r.compile(schemaDoc)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled.Validate(payload)
}

func (r *Registry) compile(schemaDoc json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schemaDoc)

	r.mu.RLock()
	if s, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache[key]; ok {
		return s, nil
	}

	var schemaMap any
	if err := json.Unmarshal(schemaDoc, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaMap); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile: %w", err)
	}

	r.cache[key] = compiled
	return compiled, nil
}
