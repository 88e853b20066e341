package model

import "testing"

func TestCapabilityIsValid(t *testing.T) {
	tests := []struct {
		cap      Capability
		expected bool
	}{
		{CapabilityPlanning, true},
		{CapabilityWriting, true},
		{CapabilityCoding, true},
		{CapabilityReviewing, true},
		{CapabilityFast, true},
		{Capability("invalid"), false},
		{Capability(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cap), func(t *testing.T) {
			if got := tt.cap.IsValid(); got != tt.expected {
				t.Errorf("Capability(%q).IsValid() = %v, want %v", tt.cap, got, tt.expected)
			}
		})
	}
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		in       string
		expected Capability
	}{
		{"planning", CapabilityPlanning},
		{"fast", CapabilityFast},
		{"not-a-capability", DefaultCapability},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseCapability(tt.in); got != tt.expected {
				t.Errorf("ParseCapability(%q) = %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}
