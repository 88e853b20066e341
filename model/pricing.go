package model

import "sync"

// Pricing is the per-token cost for a provider model, in account currency per
// million tokens.
type Pricing struct {
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

var pricingMu sync.RWMutex

// pricingTable maps provider model identifiers to prices. Local models cost
// nothing and are simply absent.
var pricingTable = map[string]Pricing{
	"claude-opus-4-5-20251101":   {InputPerMTok: 15.00, OutputPerMTok: 75.00},
	"claude-sonnet-4-20250514":   {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-3-5-20241022":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.60},
}

// CostFor converts token usage into cost. Unknown models cost 0; the pricing
// table is authoritative, not a lower bound.
func CostFor(providerModel string, inputTokens, outputTokens int) float64 {
	pricingMu.RLock()
	p, ok := pricingTable[providerModel]
	pricingMu.RUnlock()
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// SetPricing registers or overrides pricing for a provider model.
func SetPricing(providerModel string, p Pricing) {
	pricingMu.Lock()
	pricingTable[providerModel] = p
	pricingMu.Unlock()
}
