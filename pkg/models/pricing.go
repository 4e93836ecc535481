package models

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model           string  `json:"model" yaml:"model" toml:"model"`
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k" toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k" toml:"output_cost_per_1k"`
}

// Cost returns the cost of the given token counts at this pricing.
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)/1000)*p.InputCostPer1K +
		(float64(outputTokens)/1000)*p.OutputCostPer1K
}
