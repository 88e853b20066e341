package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/mind"
)

func TestAnthropicBuildRequestBody(t *testing.T) {
	p := &AnthropicProvider{}

	body, err := p.BuildRequestBody("claude-sonnet-4-20250514",
		[]mind.Message{
			{Role: mind.RoleSystem, Content: "You are terse."},
			{Role: mind.RoleUser, Content: "hi"},
			{Role: mind.RoleAssistant, ToolCalls: []mind.ToolCall{
				{ID: "tu-1", Name: "echo", Input: json.RawMessage(`{"text":"x"}`)},
			}},
			{Role: mind.RoleTool, ToolCallID: "tu-1", Content: "Echo: x"},
		},
		nil, 0,
		[]mind.ToolDefinition{{Name: "echo", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "You are terse.", req["system"])
	assert.EqualValues(t, 4096, req["max_tokens"])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 3)

	// Assistant tool_use block.
	assistant := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	blocks := assistant["content"].([]any)
	require.Len(t, blocks, 1)
	assert.Equal(t, "tool_use", blocks[0].(map[string]any)["type"])

	// Tool result becomes a user tool_result block.
	result := msgs[2].(map[string]any)
	assert.Equal(t, "user", result["role"])
	rblocks := result["content"].([]any)
	assert.Equal(t, "tool_result", rblocks[0].(map[string]any)["type"])
	assert.Equal(t, "tu-1", rblocks[0].(map[string]any)["tool_use_id"])
}

func TestAnthropicParseResponseText(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"content": [{"type": "text", "text": "Hello"}],
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 5}
	}`)

	resp, err := p.ParseResponse(body, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, mind.StopEndTurn, resp.StopReason)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Empty(t, resp.ToolCalls)
}

func TestAnthropicParseResponseToolUse(t *testing.T) {
	p := &AnthropicProvider{}

	body := []byte(`{
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "tu-9", "name": "echo", "input": {"text": "ping"}}
		],
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 15}
	}`)

	resp, err := p.ParseResponse(body, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, mind.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu-9", resp.ToolCalls[0].ID)
	assert.Equal(t, "echo", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"text":"ping"}`, string(resp.ToolCalls[0].Input))
}

func TestAnthropicStopReasonMapping(t *testing.T) {
	assert.Equal(t, mind.StopMaxTokens, mapAnthropicStop("max_tokens"))
	assert.Equal(t, mind.StopEndTurn, mapAnthropicStop("end_turn"))
	assert.Equal(t, mind.StopEndTurn, mapAnthropicStop(""))
}

func TestAnthropicBuildURL(t *testing.T) {
	p := &AnthropicProvider{}
	assert.Equal(t, "https://api.anthropic.com/v1/messages", p.BuildURL(""))
	assert.Equal(t, "https://proxy.local/v1/messages", p.BuildURL("https://proxy.local/"))
}
