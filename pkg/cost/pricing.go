package cost

import "github.com/pario-ai/warden/pkg/models"

// FallbackModel is the model whose pricing applies to unknown models.
const FallbackModel = "gpt-3.5-turbo"

// Pricing maps model names to per-1K token prices, with a fallback for unknown models.
type Pricing struct {
	Models   map[string]models.ModelPricing
	Fallback models.ModelPricing
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() Pricing {
	entries := []models.ModelPricing{
		{Model: "gpt-4", InputCostPer1K: 0.03, OutputCostPer1K: 0.06},
		{Model: "gpt-4-turbo", InputCostPer1K: 0.01, OutputCostPer1K: 0.03},
		{Model: "gpt-3.5-turbo", InputCostPer1K: 0.0005, OutputCostPer1K: 0.0015},
		{Model: "claude-3-opus", InputCostPer1K: 0.015, OutputCostPer1K: 0.075},
		{Model: "claude-3-sonnet", InputCostPer1K: 0.003, OutputCostPer1K: 0.015},
		{Model: "claude-3-haiku", InputCostPer1K: 0.00025, OutputCostPer1K: 0.00125},
	}
	p := Pricing{Models: make(map[string]models.ModelPricing, len(entries))}
	for _, e := range entries {
		p.Models[e.Model] = e
	}
	p.Fallback = p.Models[FallbackModel]
	return p
}

// With returns a copy of p with entries added or replaced.
// An entry for FallbackModel also replaces the fallback price.
func (p Pricing) With(entries ...models.ModelPricing) Pricing {
	out := Pricing{
		Models:   make(map[string]models.ModelPricing, len(p.Models)+len(entries)),
		Fallback: p.Fallback,
	}
	for k, v := range p.Models {
		out.Models[k] = v
	}
	for _, e := range entries {
		out.Models[e.Model] = e
		if e.Model == FallbackModel {
			out.Fallback = e
		}
	}
	return out
}

// Lookup returns the pricing for model and whether it was found.
// When not found the fallback pricing is returned.
func (p Pricing) Lookup(model string) (models.ModelPricing, bool) {
	if mp, ok := p.Models[model]; ok {
		return mp, true
	}
	return p.Fallback, false
}
