package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-planner.json", `"here is the plan"`)
	writeFixture(t, dir, "mock-reviewer.json", `{"content":"approved"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 turn, got %d", model, len(seq))
		}
	}
	if fixtures["mock-planner"][0].Content != "here is the plan" {
		t.Errorf("string fixture not decoded as content: %+v", fixtures["mock-planner"][0])
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	// Numbered turns then a base fallback.
	writeFixture(t, dir, "mock-reviewer.1.json", `{"content":"needs changes"}`)
	writeFixture(t, dir, "mock-reviewer.2.json", `{"content":"approved, fixed"}`)
	writeFixture(t, dir, "mock-reviewer.json", `{"content":"approved, fallback"}`)

	writeFixture(t, dir, "mock-planner.json", `{"content":"the plan"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	reviewerSeq := fixtures["mock-reviewer"]
	if len(reviewerSeq) != 3 {
		t.Fatalf("mock-reviewer: expected 3 turns, got %d", len(reviewerSeq))
	}
	if !strings.Contains(reviewerSeq[0].Content, "needs changes") {
		t.Errorf("turn[0] should be needs changes, got: %s", reviewerSeq[0].Content)
	}
	if !strings.Contains(reviewerSeq[1].Content, "fixed") {
		t.Errorf("turn[1] should be approved/fixed, got: %s", reviewerSeq[1].Content)
	}
	if !strings.Contains(reviewerSeq[2].Content, "fallback") {
		t.Errorf("turn[2] should be approved/fallback, got: %s", reviewerSeq[2].Content)
	}

	if len(fixtures["mock-planner"]) != 1 {
		t.Fatalf("mock-planner: expected 1 turn, got %d", len(fixtures["mock-planner"]))
	}
}

func TestLoadFixtures_NumberedOnly(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "mock-reviewer.1.json", `{"content":"needs changes"}`)
	writeFixture(t, dir, "mock-reviewer.2.json", `{"content":"approved"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures["mock-reviewer"]) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(fixtures["mock-reviewer"]))
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	_, err := loadFixtures(dir)
	if err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	fixtures := map[string][]fixtureTurn{
		"mock-reviewer": {
			{Content: "needs changes"},
			{Content: "approved"},
		},
		"mock-planner": {
			{Content: "the plan"},
		},
	}

	s := newServer(fixtures)

	// Calls walk the sequence, then repeat the last turn.
	resp1 := doCompletion(t, s, "mock-reviewer")
	if !strings.Contains(resp1, "needs changes") {
		t.Errorf("call 1: expected needs changes, got: %s", resp1)
	}
	resp2 := doCompletion(t, s, "mock-reviewer")
	if !strings.Contains(resp2, "approved") {
		t.Errorf("call 2: expected approved, got: %s", resp2)
	}
	resp3 := doCompletion(t, s, "mock-reviewer")
	if !strings.Contains(resp3, "approved") {
		t.Errorf("call 3: expected approved (repeat last), got: %s", resp3)
	}

	// Per-model counters are independent.
	planResp := doCompletion(t, s, "mock-planner")
	if !strings.Contains(planResp, "the plan") {
		t.Errorf("planner: expected the plan, got: %s", planResp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]fixtureTurn{
		"mock-reviewer": {{Content: "approved"}},
		"mock-planner":  {{Content: "the plan"}},
	}

	s := newServer(fixtures)

	doCompletion(t, s, "mock-reviewer")
	doCompletion(t, s, "mock-reviewer")
	doCompletion(t, s, "mock-planner")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-reviewer"] != 2 {
		t.Errorf("mock-reviewer calls: expected 2, got %d", stats.CallsByModel["mock-reviewer"])
	}
	if stats.CallsByModel["mock-planner"] != 1 {
		t.Errorf("mock-planner calls: expected 1, got %d", stats.CallsByModel["mock-planner"])
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]fixtureTurn{
		"planner": {{Content: "the plan"}},
	}

	s := newServer(fixtures)

	// Request with "mock-" prefix resolves to "planner".
	resp := doCompletion(t, s, "mock-planner")
	if !strings.Contains(resp, "the plan") {
		t.Errorf("expected mock-prefix stripping to resolve, got: %s", resp)
	}
}

func TestUnknownModel(t *testing.T) {
	s := newServer(map[string][]fixtureTurn{
		"planner": {{Content: "the plan"}},
	})

	body := strings.NewReader(`{"model":"nobody","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown model, got %d", w.Code)
	}
}

func TestNumberedFileRegex(t *testing.T) {
	tests := []struct {
		filename string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-reviewer.1.json", "mock-reviewer", "1", true},
		{"mock-reviewer.2.json", "mock-reviewer", "2", true},
		{"mock-reviewer.10.json", "mock-reviewer", "10", true},
		{"mock-reviewer.json", "", "", false},
		{"mock-fast.json", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFileRe.FindStringSubmatch(tt.filename)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.filename)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.filename, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.filename, matches[2], tt.wantNum)
			}
		} else {
			if matches != nil {
				t.Errorf("%s: expected no match, got %v", tt.filename, matches)
			}
		}
	}
}

func TestToolCallFixture(t *testing.T) {
	toolFixture := `{
		"content": "I'll write that file.",
		"tool_calls": [
			{
				"id": "call_123",
				"type": "function",
				"function": {
					"name": "file_write",
					"arguments": "{\"path\":\"hello.py\",\"content\":\"print('hello')\"}"
				}
			}
		]
	}`

	turn, err := parseFixture([]byte(toolFixture))
	if err != nil {
		t.Fatalf("parseFixture: %v", err)
	}

	s := newServer(map[string][]fixtureTurn{"mock-worker": {turn}})

	resp := doCompletionFull(t, s, "mock-worker", `[{"role":"user","content":"Create hello.py"}]`)
	choice := resp.Choices[0]

	if choice.FinishReason != "tool_calls" {
		t.Errorf("finish_reason: expected tool_calls, got %q", choice.FinishReason)
	}
	if !strings.Contains(choice.Message.Content, "write that file") {
		t.Errorf("content: expected file creation message, got %q", choice.Message.Content)
	}

	var calls []struct {
		ID       string `json:"id"`
		Type     string `json:"type"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal(choice.Message.ToolCalls, &calls); err != nil {
		t.Fatalf("decode tool_calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool_call, got %d", len(calls))
	}
	if calls[0].ID != "call_123" {
		t.Errorf("tool_call.id: expected call_123, got %q", calls[0].ID)
	}
	if calls[0].Function.Name != "file_write" {
		t.Errorf("tool_call.function.name: expected file_write, got %q", calls[0].Function.Name)
	}
	if !strings.Contains(calls[0].Function.Arguments, "hello.py") {
		t.Errorf("tool_call.function.arguments: expected hello.py, got %q", calls[0].Function.Arguments)
	}
}

func TestToolCallMultiTurn(t *testing.T) {
	// Turn one is a tool call, turn two the final answer.
	toolTurn, err := parseFixture([]byte(`{
		"content": "Running the tool.",
		"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "file_write", "arguments": "{\"path\":\"test.py\"}"}}]
	}`))
	if err != nil {
		t.Fatalf("parseFixture: %v", err)
	}

	s := newServer(map[string][]fixtureTurn{
		"mock-worker": {toolTurn, {Content: "Done, test.py is written."}},
	})

	resp1 := doCompletionFull(t, s, "mock-worker", `[{"role":"user","content":"Create test.py"}]`)
	if resp1.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("call 1: expected finish_reason=tool_calls, got %q", resp1.Choices[0].FinishReason)
	}
	if len(resp1.Choices[0].Message.ToolCalls) == 0 {
		t.Fatal("call 1: expected tool_calls in message")
	}

	resp2 := doCompletionFull(t, s, "mock-worker", `[
		{"role":"user","content":"Create test.py"},
		{"role":"assistant","content":"Running the tool.","tool_calls":[{"id":"call_1","type":"function","function":{"name":"file_write","arguments":"{}"}}]},
		{"role":"tool","content":"ok"}
	]`)
	if resp2.Choices[0].FinishReason != "stop" {
		t.Errorf("call 2: expected finish_reason=stop, got %q", resp2.Choices[0].FinishReason)
	}
	if !strings.Contains(resp2.Choices[0].Message.Content, "Done") {
		t.Errorf("call 2: expected final answer, got %q", resp2.Choices[0].Message.Content)
	}
}

func TestPlainStringFixture(t *testing.T) {
	turn, err := parseFixture([]byte(`"just a plain answer"`))
	if err != nil {
		t.Fatalf("parseFixture: %v", err)
	}

	s := newServer(map[string][]fixtureTurn{"mock-planner": {turn}})
	resp := doCompletionFull(t, s, "mock-planner", `[{"role":"user","content":"hello"}]`)

	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("expected finish_reason=stop, got %q", resp.Choices[0].FinishReason)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 0 {
		t.Error("expected no tool_calls for a plain fixture")
	}
	if resp.Choices[0].Message.Content != "just a plain answer" {
		t.Errorf("unexpected content %q", resp.Choices[0].Message.Content)
	}
}

func TestRequestCapture(t *testing.T) {
	s := newServer(map[string][]fixtureTurn{
		"mock-worker": {{Content: "ok"}},
	})

	doCompletionFull(t, s, "mock-worker", `[{"role":"user","content":"first"}]`)
	doCompletionFull(t, s, "mock-worker", `[{"role":"user","content":"second"}]`)

	req := httptest.NewRequest(http.MethodGet, "/requests?model=mock-worker&call=2", nil)
	w := httptest.NewRecorder()
	s.handleRequests(w, req)

	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}

	reqs := captured.RequestsByModel["mock-worker"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request for call=2, got %d", len(reqs))
	}
	if reqs[0].CallIndex != 2 {
		t.Errorf("expected call_index 2, got %d", reqs[0].CallIndex)
	}
	if len(reqs[0].Messages) != 1 || reqs[0].Messages[0].Content != "second" {
		t.Errorf("unexpected captured messages: %+v", reqs[0].Messages)
	}
}

// --- helpers ---

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()
	return doCompletionFull(t, s, model, `[{"role":"user","content":"test"}]`).Choices[0].Message.Content
}

func doCompletionFull(t *testing.T, s *server, model, messagesJSON string) chatResponse {
	t.Helper()
	body := strings.NewReader(`{"model":"` + model + `","messages":` + messagesJSON + `}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("model %s: status %d, body: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) == 0 {
		t.Fatalf("no choices in response")
	}
	return resp
}
