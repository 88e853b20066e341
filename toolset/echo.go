package toolset

import (
	"context"

	"github.com/c360studio/cellmesh/mind"
)

// EchoExecutor implements the echo tool. Mostly useful for wiring tests and
// connectivity checks.
type EchoExecutor struct{}

// NewEchoExecutor creates the echo executor.
func NewEchoExecutor() *EchoExecutor {
	return &EchoExecutor{}
}

// Execute echoes the text argument back.
func (e *EchoExecutor) Execute(_ context.Context, call mind.ToolCall) (Result, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := decodeArgs(call, &args); err != nil {
		return Result{}, err
	}
	return Result{Content: "Echo: " + args.Text}, nil
}

// ListTools returns the echo definition.
func (e *EchoExecutor) ListTools() []mind.ToolDefinition {
	return []mind.ToolDefinition{
		{
			Name:        "echo",
			Description: "Echo the given text back",
			InputSchema: schema(map[string]any{
				"text": prop("string", "Text to echo"),
			}, "text"),
		},
	}
}
