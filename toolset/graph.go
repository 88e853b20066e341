package toolset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360studio/cellmesh/mind"
)

// GraphExecutor exposes the knowledge-graph service as three opaque tools:
// graph_query, graph_upsert, and graph_neighbors. The service owns all graph
// semantics; this executor only relays JSON.
type GraphExecutor struct {
	baseURL string
	client  *http.Client
}

// NewGraphExecutor creates a graph executor against the service base URL.
func NewGraphExecutor(baseURL string) *GraphExecutor {
	return &GraphExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Execute relays one graph tool call to the service.
func (g *GraphExecutor) Execute(ctx context.Context, call mind.ToolCall) (Result, error) {
	var path string
	switch call.Name {
	case "graph_query":
		path = "/v1/query"
	case "graph_upsert":
		path = "/v1/upsert"
	case "graph_neighbors":
		path = "/v1/neighbors"
	default:
		return Result{Error: fmt.Sprintf("unknown tool: %s", call.Name)}, nil
	}

	body := call.Input
	if len(body) == 0 {
		body = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build graph request: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{Error: fmt.Sprintf("graph service unreachable: %v", err)}, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Error: fmt.Sprintf("read graph response: %v", err)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Error: fmt.Sprintf("graph service error (status %d): %s", resp.StatusCode, respBody)}, nil
	}
	return Result{Content: string(respBody)}, nil
}

// ListTools returns the graph tool definitions.
func (g *GraphExecutor) ListTools() []mind.ToolDefinition {
	return []mind.ToolDefinition{
		{
			Name:        "graph_query",
			Description: "Query the knowledge graph with a structured query object",
			InputSchema: schema(map[string]any{
				"query": prop("string", "Query expression"),
			}, "query"),
		},
		{
			Name:        "graph_upsert",
			Description: "Insert or update nodes and edges in the knowledge graph",
			InputSchema: schema(map[string]any{
				"nodes": map[string]any{"type": "array", "description": "Nodes to upsert"},
				"edges": map[string]any{"type": "array", "description": "Edges to upsert"},
			}),
		},
		{
			Name:        "graph_neighbors",
			Description: "List neighbors of a knowledge graph node",
			InputSchema: schema(map[string]any{
				"id":    prop("string", "Node id"),
				"depth": prop("integer", "Traversal depth, default 1"),
			}, "id"),
		},
	}
}
