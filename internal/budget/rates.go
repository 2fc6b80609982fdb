package budget

// Rates holds per-provider pricing configuration.
type Rates struct {
	Places    PlacesRate           `yaml:"places" mapstructure:"places"`
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// PlacesRate holds per-call Google Places pricing.
type PlacesRate struct {
	TextSearch float64 `yaml:"text_search" mapstructure:"text_search"`
	Details    float64 `yaml:"details" mapstructure:"details"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Places: PlacesRate{
			TextSearch: 0.032,
			Details:    0.017,
		},
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}

// Calculator computes per-call costs from configured rates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// TextSearch returns the flat cost of one Places text search call.
func (c *Calculator) TextSearch() float64 {
	return c.rates.Places.TextSearch
}

// Details returns the flat cost of one Places details call.
func (c *Calculator) Details() float64 {
	return c.rates.Places.Details
}

// ClaudeActual computes the reconciled cost of a completed Claude call from
// reported token usage. Unknown models price at zero.
func (c *Calculator) ClaudeActual(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

// ClaudeEstimate computes a pessimistic pre-call cost for a Claude request:
// the full prompt priced as input plus the entire max-token allowance priced
// as output. Authorization uses this; Record reconciles with ClaudeActual.
func (c *Calculator) ClaudeEstimate(model string, promptChars int, maxTokens int64) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	// ~4 chars per token is a safe upper-bound heuristic for English prompts.
	estInput := int64(promptChars/4) + 1
	return (float64(estInput)/1e6)*rate.Input + (float64(maxTokens)/1e6)*rate.Output
}
