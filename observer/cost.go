package observer

import (
	"strings"

	"github.com/nevindra/rlm"
)

// ModelPricing is USD per million tokens. CachedInputPerMillion, when set,
// replaces the input rate for the cached share of the prompt.
type ModelPricing struct {
	InputPerMillion       float64 `toml:"input_per_million"`
	OutputPerMillion      float64 `toml:"output_per_million"`
	CachedInputPerMillion float64 `toml:"cached_input_per_million"`
}

// DefaultPricing covers the models RLM is usually run with. [observer.pricing]
// in rlm.toml overrides or extends it.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o":       {2.50, 10.00, 1.25},
	"gpt-4o-mini":  {0.15, 0.60, 0.075},
	"gpt-4.1":      {2.00, 8.00, 0.50},
	"gpt-4.1-mini": {0.40, 1.60, 0.10},
	"gpt-4.1-nano": {0.10, 0.40, 0.025},
	"gpt-5":        {1.25, 10.00, 0.125},
	"gpt-5-mini":   {0.25, 2.00, 0.025},
	"gpt-5-nano":   {0.05, 0.40, 0.005},
	"o3-mini":      {1.10, 4.40, 0.55},

	"gemini-2.0-flash":      {0.10, 0.40, 0.025},
	"gemini-2.5-flash":      {0.15, 0.60, 0},
	"gemini-2.5-flash-lite": {0.10, 0.40, 0.025},
	"gemini-2.5-pro":        {1.25, 10.00, 0.31},

	"deepseek-chat":           {0.27, 1.10, 0.07},
	"llama-3.3-70b-versatile": {0.59, 0.79, 0},
}

// CostCalculator prices token usage. Dated model names such as
// "gpt-4o-2024-08-06" fall back to the longest priced prefix.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator merges overrides over DefaultPricing.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

func (c *CostCalculator) lookup(model string) (ModelPricing, bool) {
	if p, ok := c.pricing[model]; ok {
		return p, true
	}
	best := ""
	for name := range c.pricing {
		if len(name) > len(best) && strings.HasPrefix(model, name+"-") {
			best = name
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return c.pricing[best], true
}

// Usage prices u for model. Unknown models cost 0.
func (c *CostCalculator) Usage(model string, u rlm.Usage) float64 {
	p, ok := c.lookup(model)
	if !ok {
		return 0
	}
	input := float64(u.InputTokens) * p.InputPerMillion
	if p.CachedInputPerMillion > 0 && u.CachedTokens > 0 {
		cached := min(u.CachedTokens, u.InputTokens)
		input = float64(u.InputTokens-cached)*p.InputPerMillion + float64(cached)*p.CachedInputPerMillion
	}
	return (input + float64(u.OutputTokens)*p.OutputPerMillion) / 1_000_000
}

// Known reports whether model has pricing.
func (c *CostCalculator) Known(model string) bool {
	_, ok := c.lookup(model)
	return ok
}
