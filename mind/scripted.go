package mind

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedMind replays a fixed sequence of responses. Tests use it to drive
// the agentic loop deterministically; it also records every request it saw.
type ScriptedMind struct {
	mu        sync.Mutex
	responses []*Response
	requests  []Request
	err       error
}

// NewScriptedMind creates a mind that returns the given responses in order.
func NewScriptedMind(responses ...*Response) *ScriptedMind {
	return &ScriptedMind{responses: responses}
}

// FailWith makes every subsequent Think call return err.
func (s *ScriptedMind) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Think returns the next scripted response.
func (s *ScriptedMind) Think(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("scripted mind exhausted after %d calls", len(s.requests))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// Calls returns how many times Think was invoked.
func (s *ScriptedMind) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of the recorded requests.
func (s *ScriptedMind) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

var _ Mind = (*ScriptedMind)(nil)
