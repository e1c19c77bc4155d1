package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// PerplexityRate holds Perplexity pricing. Sonar bills a flat request fee
// plus tokens.
type PerplexityRate struct {
	PerQuery float64              `yaml:"per_query" mapstructure:"per_query"`
	Models   map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// Calculator estimates spend for model calls. A nil Calculator prices
// everything at zero.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost of one Claude message. Unknown models cost 0.
func (c *Calculator) Claude(model string, input, output int64) float64 {
	if c == nil {
		return 0
	}
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return tokenCost(rate, input, output)
}

// Sonar computes the cost of one Perplexity chat completion: the flat
// request fee plus token cost when the model has a rate.
func (c *Calculator) Sonar(model string, input, output int64) float64 {
	if c == nil {
		return 0
	}
	total := c.rates.Perplexity.PerQuery
	if rate, ok := c.rates.Perplexity.Models[model]; ok {
		total += tokenCost(rate, input, output)
	}
	return total
}

func tokenCost(rate ModelRate, input, output int64) float64 {
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
		Perplexity: PerplexityRate{
			PerQuery: 0.005,
			Models: map[string]ModelRate{
				"sonar":     {Input: 1.00, Output: 1.00},
				"sonar-pro": {Input: 3.00, Output: 15.00},
			},
		},
	}
}
