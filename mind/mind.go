// Package mind is the reasoning interface of a cell. A Mind takes the
// conversation so far plus available tools and returns either text, tool
// calls, or both. The production implementation (Client) speaks to LLM
// providers with retry and capability-based fallback; tests use ScriptedMind.
package mind

import (
	"context"
	"encoding/json"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Message is one turn of conversation. Assistant turns may carry tool calls;
// tool turns carry the result for one call.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolDefinition describes a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage is the token consumption of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is one reasoning turn.
type Request struct {
	// Capability selects the model through the registry.
	Capability string

	// Messages is the conversation so far.
	Messages []Message

	// Tools the model may call this turn.
	Tools []ToolDefinition

	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int
}

// Response is the model's output for one turn.
type Response struct {
	// RequestID correlates the call across logs and events.
	RequestID string

	// Content is the generated text, possibly empty on pure tool turns.
	Content string

	// ToolCalls the model wants executed before it continues.
	ToolCalls []ToolCall

	// Model is the provider model that actually answered.
	Model string

	// StopReason is end_turn, tool_use, or max_tokens.
	StopReason string

	// Usage is the token consumption, when the provider reports it.
	Usage Usage
}

// Mind produces one reasoning turn. Implementations must be safe for
// concurrent use across cells.
type Mind interface {
	Think(ctx context.Context, req Request) (*Response, error)
}
