package mind_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/cellmesh/mind"
	_ "github.com/c360studio/cellmesh/mind/providers" // register providers
	"github.com/c360studio/cellmesh/model"
)

func openAICompletion(content, finishReason string) map[string]any {
	return map[string]any{
		"id":    "chatcmpl-123",
		"model": "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": finishReason,
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func testRegistry(url string) *model.Registry {
	return model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityFast: {
				Preferred: []string{"test-model"},
			},
		},
		map[string]*model.EndpointConfig{
			"test-model": {
				Provider: "ollama",
				URL:      url,
				Model:    "test-model",
			},
		},
	)
}

func TestThinkSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAICompletion("Hello there", "stop"))
	}))
	defer server.Close()

	client := mind.NewClient(testRegistry(server.URL))
	resp, err := client.Think(context.Background(), mind.Request{
		Capability: "fast",
		Messages:   []mind.Message{{Role: mind.RoleUser, Content: "Hello"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, mind.StopEndTurn, resp.StopReason)
	assert.Equal(t, 18, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.RequestID)
}

func TestThinkToolCallRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tools []map[string]any `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Tools, 1)

		resp := map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"role":    "assistant",
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call-1",
								"type": "function",
								"function": map[string]any{
									"name":      "echo",
									"arguments": `{"text":"ping"}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := mind.NewClient(testRegistry(server.URL))
	resp, err := client.Think(context.Background(), mind.Request{
		Capability: "fast",
		Messages:   []mind.Message{{Role: mind.RoleUser, Content: "ping the echo"}},
		Tools: []mind.ToolDefinition{
			{Name: "echo", Description: "echoes text", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, mind.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "echo", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"text":"ping"}`, string(resp.ToolCalls[0].Input))
}

func TestThinkRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAICompletion("recovered", "stop"))
	}))
	defer server.Close()

	client := mind.NewClient(testRegistry(server.URL),
		mind.WithRetryConfig(mind.RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       time.Millisecond,
			BackoffMultiplier: 1,
			MaxBackoff:        time.Millisecond,
		}))

	resp, err := client.Think(context.Background(), mind.Request{
		Capability: "fast",
		Messages:   []mind.Message{{Role: mind.RoleUser, Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestThinkFatalErrorStopsImmediately(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := mind.NewClient(testRegistry(server.URL))
	_, err := client.Think(context.Background(), mind.Request{
		Capability: "fast",
		Messages:   []mind.Message{{Role: mind.RoleUser, Content: "hi"}},
	})

	require.Error(t, err)
	assert.True(t, mind.IsFatal(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestThinkFallsBackToNextEndpoint(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAICompletion("from fallback", "stop"))
	}))
	defer working.Close()

	registry := model.NewRegistry(
		map[model.Capability]*model.CapabilityConfig{
			model.CapabilityFast: {
				Preferred: []string{"primary"},
				Fallback:  []string{"backup"},
			},
		},
		map[string]*model.EndpointConfig{
			"primary": {Provider: "ollama", URL: broken.URL, Model: "primary"},
			"backup":  {Provider: "ollama", URL: working.URL, Model: "backup"},
		},
	)

	client := mind.NewClient(registry,
		mind.WithRetryConfig(mind.RetryConfig{
			MaxAttempts:       1,
			BackoffBase:       time.Millisecond,
			BackoffMultiplier: 1,
			MaxBackoff:        time.Millisecond,
		}))

	resp, err := client.Think(context.Background(), mind.Request{
		Capability: "fast",
		Messages:   []mind.Message{{Role: mind.RoleUser, Content: "hi"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "from fallback", resp.Content)

	// The broken endpoint was marked unhealthy.
	h := registry.GetEndpointHealth("primary")
	require.NotNil(t, h)
	assert.Positive(t, h.FailureCount)
}

func TestThinkRequiresMessages(t *testing.T) {
	client := mind.NewClient(model.NewDefaultRegistry())
	_, err := client.Think(context.Background(), mind.Request{Capability: "fast"})
	require.Error(t, err)
}

func TestScriptedMind(t *testing.T) {
	m := mind.NewScriptedMind(
		&mind.Response{Content: "first", StopReason: mind.StopEndTurn},
		&mind.Response{Content: "second", StopReason: mind.StopEndTurn},
	)

	resp, err := m.Think(context.Background(), mind.Request{Messages: []mind.Message{{Role: mind.RoleUser, Content: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = m.Think(context.Background(), mind.Request{Messages: []mind.Message{{Role: mind.RoleUser, Content: "b"}}})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	_, err = m.Think(context.Background(), mind.Request{})
	require.Error(t, err)
	assert.Equal(t, 3, m.Calls())
}
