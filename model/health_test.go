package model

import (
	"testing"
	"time"
)

func TestCircuitOpensAtThreshold(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute})

	r.MarkEndpointFailure("claude-sonnet")
	r.MarkEndpointFailure("claude-sonnet")
	if !r.IsEndpointAvailable("claude-sonnet") {
		t.Fatal("endpoint unavailable before threshold")
	}

	r.MarkEndpointFailure("claude-sonnet")
	if r.IsEndpointAvailable("claude-sonnet") {
		t.Fatal("endpoint still available after threshold")
	}

	h := r.GetEndpointHealth("claude-sonnet")
	if h == nil || !h.CircuitOpen || h.FailureCount != 3 {
		t.Errorf("health = %+v, want open circuit with 3 failures", h)
	}
}

func TestSuccessClosesCircuit(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	r.MarkEndpointFailure("qwen")
	if r.IsEndpointAvailable("qwen") {
		t.Fatal("expected open circuit")
	}

	r.MarkEndpointSuccess("qwen")
	if !r.IsEndpointAvailable("qwen") {
		t.Fatal("expected closed circuit after success")
	}
	if h := r.GetEndpointHealth("qwen"); h.FailureCount != 0 {
		t.Errorf("failure count = %d, want 0", h.FailureCount)
	}
}

func TestRecoveryTimeoutAllowsTestCall(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Millisecond})

	r.MarkEndpointFailure("claude-haiku")
	time.Sleep(5 * time.Millisecond)

	if !r.IsEndpointAvailable("claude-haiku") {
		t.Fatal("expected half-open endpoint after recovery timeout")
	}
}

func TestUnknownEndpointIsAvailable(t *testing.T) {
	r := NewDefaultRegistry()
	if !r.IsEndpointAvailable("never-seen") {
		t.Error("unknown endpoint should be available")
	}
	if r.GetEndpointHealth("never-seen") != nil {
		t.Error("unknown endpoint should have nil health")
	}
}

func TestAvailableFallbackChainSkipsOpenCircuits(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	r.MarkEndpointFailure("claude-opus")
	chain := r.GetAvailableFallbackChain(CapabilityPlanning)
	for _, name := range chain {
		if name == "claude-opus" {
			t.Fatal("chain contains unavailable endpoint")
		}
	}

	// All endpoints down: the full chain comes back.
	r.MarkEndpointFailure("claude-sonnet")
	r.MarkEndpointFailure("qwen")
	chain = r.GetAvailableFallbackChain(CapabilityPlanning)
	if len(chain) != 3 {
		t.Errorf("chain length = %d, want full chain of 3", len(chain))
	}
}
