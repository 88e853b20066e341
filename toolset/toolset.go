// Package toolset holds the tools a cell can call during its agentic loop.
// Executors implement one or more named tools; a Registry maps tool names to
// executors and exposes the combined definitions to the mind.
package toolset

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/c360studio/cellmesh/mind"
)

// Result is the outcome of one tool call. Error carries a model-visible
// failure description; the loop keeps running either way.
type Result struct {
	CallID  string `json:"callId"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs one or more tools.
type Executor interface {
	// Execute runs the named tool call.
	Execute(ctx context.Context, call mind.ToolCall) (Result, error)

	// ListTools returns the definitions this executor serves.
	ListTools() []mind.ToolDefinition
}

// Registry maps tool names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
	defs      map[string]mind.ToolDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		defs:      make(map[string]mind.ToolDefinition),
	}
}

// Register adds every tool of the executor. Re-registering a name is an
// error.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range e.ListTools() {
		if _, exists := r.executors[def.Name]; exists {
			return fmt.Errorf("tool %q already registered", def.Name)
		}
		r.executors[def.Name] = e
		r.defs[def.Name] = def
	}
	return nil
}

// Definitions returns all registered tool definitions, sorted by name.
func (r *Registry) Definitions() []mind.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mind.ToolDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Filter returns a registry restricted to the named tools. Unknown names are
// skipped.
func (r *Registry) Filter(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := NewRegistry()
	for _, name := range names {
		if e, ok := r.executors[name]; ok {
			sub.executors[name] = e
			sub.defs[name] = r.defs[name]
		}
	}
	return sub
}

// Execute dispatches the call to its executor. Unknown tools return an error
// Result, not a Go error; the model should see the failure and adapt.
func (r *Registry) Execute(ctx context.Context, call mind.ToolCall) Result {
	r.mu.RLock()
	e, ok := r.executors[call.Name]
	r.mu.RUnlock()

	if !ok {
		return Result{CallID: call.ID, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}
	res, err := e.Execute(ctx, call)
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}
	res.CallID = call.ID
	return res
}

// decodeArgs unmarshals tool input into a typed argument struct.
func decodeArgs(call mind.ToolCall, into any) error {
	if len(call.Input) == 0 {
		return nil
	}
	if err := json.Unmarshal(call.Input, into); err != nil {
		return fmt.Errorf("decode %s arguments: %w", call.Name, err)
	}
	return nil
}

// schema is a shorthand for building JSON schema definitions.
func schema(properties map[string]any, required ...string) json.RawMessage {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	data, _ := json.Marshal(s)
	return data
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
