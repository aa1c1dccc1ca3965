package cost

import "github.com/ppiankov/verbatim/internal/model"

// defaultRates is the built-in price table (USD per million tokens).
// Encoding is set only where the offline BPE ranks ship with the loader
// (cl100k_base, p50k_base, r50k_base). The o200k_base families are counted
// with the approximation and flagged as such.
var defaultRates = map[string]model.RateConfig{
	"gpt-5":       {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	"gpt-5-mini":  {InputPerMillion: 0.25, OutputPerMillion: 2.00},
	"gpt-5-nano":  {InputPerMillion: 0.05, OutputPerMillion: 0.40},
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini": {InputPerMillion: 0.60, OutputPerMillion: 2.40},
	"gpt-4.1":     {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4-turbo": {InputPerMillion: 10.00, OutputPerMillion: 30.00, Encoding: "cl100k_base"},

	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5":  {InputPerMillion: 1.00, OutputPerMillion: 5.00},
	"claude-opus-4-1":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
}

// DefaultRates returns a copy of the built-in price table
func DefaultRates() map[string]model.RateConfig {
	out := make(map[string]model.RateConfig, len(defaultRates))
	for k, v := range defaultRates {
		out[k] = v
	}
	return out
}
