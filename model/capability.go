// Package model provides capability-based model selection for cells. A cell
// spec names a capability (planning, coding, fast) rather than a concrete
// model; the registry resolves it to an available endpoint with a fallback
// chain and tracks per-endpoint health. Pricing converts token usage into the
// cost units the budget ledger accounts in.
package model

// Capability is a semantic model requirement. Cells declare what kind of
// reasoning they need instead of pinning a provider model id.
type Capability string

const (
	// CapabilityPlanning is for high-level reasoning and decomposition.
	CapabilityPlanning Capability = "planning"

	// CapabilityWriting is for documentation and long-form text.
	CapabilityWriting Capability = "writing"

	// CapabilityCoding is for code generation.
	CapabilityCoding Capability = "coding"

	// CapabilityReviewing is for critique and quality analysis.
	CapabilityReviewing Capability = "reviewing"

	// CapabilityFast is for quick responses and simple tool dispatch.
	CapabilityFast Capability = "fast"
)

// DefaultCapability is used when a cell spec leaves capability empty.
const DefaultCapability = CapabilityFast

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityWriting, CapabilityCoding, CapabilityReviewing, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability. Unknown values fall back
// to DefaultCapability; empty stays empty so callers can detect "unset".
func ParseCapability(s string) Capability {
	if s == "" {
		return ""
	}
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return DefaultCapability
}
