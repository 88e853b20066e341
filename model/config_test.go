package model

import "testing"

func TestLoadFromJSONFullConfig(t *testing.T) {
	data := []byte(`{
		"models": {
			"capabilities": {
				"coding": {"preferred": ["sonnet"], "fallback": ["qwen"]}
			},
			"endpoints": {
				"sonnet": {"provider": "anthropic", "model": "claude-sonnet-4-20250514"},
				"qwen": {"provider": "ollama", "url": "http://localhost:11434/v1", "model": "qwen2.5-coder:14b"}
			},
			"defaults": {"model": "qwen"}
		}
	}`)

	r, err := LoadFromJSON(data)
	if err != nil {
		t.Fatalf("LoadFromJSON: %v", err)
	}
	if got := r.Resolve(CapabilityCoding); got != "sonnet" {
		t.Errorf("Resolve(coding) = %q, want sonnet", got)
	}
	if got := r.Resolve(CapabilityFast); got != "qwen" {
		t.Errorf("Resolve(fast) = %q, want default qwen", got)
	}
}

func TestLoadFromJSONBareRegistry(t *testing.T) {
	data := []byte(`{
		"capabilities": {"fast": {"preferred": ["haiku"]}},
		"endpoints": {"haiku": {"provider": "anthropic", "model": "claude-haiku-3-5-20241022"}}
	}`)

	r, err := LoadFromJSON(data)
	if err != nil {
		t.Fatalf("LoadFromJSON: %v", err)
	}
	if got := r.Resolve(CapabilityFast); got != "haiku" {
		t.Errorf("Resolve(fast) = %q, want haiku", got)
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()

	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"fast": {Preferred: []string{"local"}},
		},
		Endpoints: map[string]*EndpointConfig{
			"local": {Provider: "ollama", Model: "llama3.2"},
		},
	})

	if got := r.Resolve(CapabilityFast); got != "local" {
		t.Errorf("Resolve(fast) = %q, want local after merge", got)
	}
	// Untouched capabilities survive the merge.
	if got := r.Resolve(CapabilityPlanning); got != "claude-opus" {
		t.Errorf("Resolve(planning) = %q, want claude-opus", got)
	}
}

func TestToConfigRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()
	cfg := r.ToConfig()

	back := FromConfig(cfg)
	if got := back.Resolve(CapabilityCoding); got != r.Resolve(CapabilityCoding) {
		t.Errorf("round trip changed Resolve(coding): %q", got)
	}
}
