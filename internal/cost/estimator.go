// Package cost prices expensive service calls before they are made. Every
// estimate is a pure function of local text and the rate table.
package cost

import (
	"strings"

	"github.com/ppiankov/verbatim/internal/model"
)

// Call is one planned service call
type Call struct {
	Kind  string // scan, compile, reconstruct
	Key   string
	Items int
	Text  string // full prompt text that would be sent
}

// Estimator computes token counts and priced estimates
type Estimator struct {
	rates       map[string]model.RateConfig
	outputRatio float64
	encodings   *encodings
}

// NewEstimator builds an estimator from the built-in table plus config overrides
func NewEstimator(cfg model.CostConfig) *Estimator {
	rates := DefaultRates()
	for name, r := range cfg.Rates {
		rates[strings.ToLower(name)] = r
	}
	ratio := cfg.OutputRatio
	if ratio <= 0 {
		ratio = 0.3
	}
	return &Estimator{
		rates:       rates,
		outputRatio: ratio,
		encodings:   newEncodings(),
	}
}

// Rate returns the price table entry for a model
func (e *Estimator) Rate(modelName string) (model.RateConfig, error) {
	r, ok := e.rates[strings.ToLower(strings.TrimSpace(modelName))]
	if !ok {
		return model.RateConfig{}, &model.UnknownModelError{Model: modelName}
	}
	return r, nil
}

// Estimate prices sending texts to a model. Unknown models fail with
// model.ErrUnknownModel and no partial estimate.
func (e *Estimator) Estimate(texts []string, modelName string) (model.CostEstimate, error) {
	r, err := e.Rate(modelName)
	if err != nil {
		return model.CostEstimate{}, err
	}
	tok := e.encodings.get(r.Encoding)

	input := 0
	for _, t := range texts {
		input += tok.Count(t)
	}
	return e.price(modelName, r, tok, input), nil
}

// EstimateCalls prices a set of planned calls, returning the total and one
// line per call.
func (e *Estimator) EstimateCalls(calls []Call, modelName string) (model.CostEstimate, []model.CostLine, error) {
	r, err := e.Rate(modelName)
	if err != nil {
		return model.CostEstimate{}, nil, err
	}
	tok := e.encodings.get(r.Encoding)

	lines := make([]model.CostLine, 0, len(calls))
	total := 0
	for _, c := range calls {
		in := tok.Count(c.Text)
		est := e.price(modelName, r, tok, in)
		lines = append(lines, model.CostLine{
			Kind:         c.Kind,
			Key:          c.Key,
			Items:        c.Items,
			InputTokens:  est.InputTokens,
			OutputTokens: est.OutputTokens,
			USD:          est.USDTotal,
		})
		total += in
	}
	return e.price(modelName, r, tok, total), lines, nil
}

// Price computes cost for known token counts, e.g. actual usage
func (e *Estimator) Price(modelName string, inputTokens, outputTokens int) (float64, error) {
	r, err := e.Rate(modelName)
	if err != nil {
		return 0, err
	}
	return perMillion(inputTokens, r.InputPerMillion) + perMillion(outputTokens, r.OutputPerMillion), nil
}

func (e *Estimator) price(modelName string, r model.RateConfig, tok Tokenizer, input int) model.CostEstimate {
	output := int(float64(input) * e.outputRatio)
	usdIn := perMillion(input, r.InputPerMillion)
	usdOut := perMillion(output, r.OutputPerMillion)
	return model.CostEstimate{
		Model:               modelName,
		Tokenizer:           tok.Name(),
		Approximate:         !tok.Exact(),
		InputTokens:         input,
		OutputTokens:        output,
		USDPerMillionInput:  r.InputPerMillion,
		USDPerMillionOutput: r.OutputPerMillion,
		USDInput:            usdIn,
		USDOutput:           usdOut,
		USDTotal:            usdIn + usdOut,
	}
}

func perMillion(tokens int, rate float64) float64 {
	return float64(tokens) / 1e6 * rate
}

// Tally prices planned calls one at a time, so a scan can estimate a source
// without holding its text
type Tally struct {
	e     *Estimator
	model string
	rate  model.RateConfig
	tok   Tokenizer
	lines []model.CostLine
	input int
}

// NewTally starts an empty tally. Unknown models fail here, before any
// text is read.
func (e *Estimator) NewTally(modelName string) (*Tally, error) {
	r, err := e.Rate(modelName)
	if err != nil {
		return nil, err
	}
	return &Tally{e: e, model: modelName, rate: r, tok: e.encodings.get(r.Encoding)}, nil
}

// Add prices one call and records its line
func (t *Tally) Add(c Call) model.CostLine {
	in := t.tok.Count(c.Text)
	est := t.e.price(t.model, t.rate, t.tok, in)
	line := model.CostLine{
		Kind:         c.Kind,
		Key:          c.Key,
		Items:        c.Items,
		InputTokens:  est.InputTokens,
		OutputTokens: est.OutputTokens,
		USD:          est.USDTotal,
	}
	t.lines = append(t.lines, line)
	t.input += in
	return line
}

// Estimate returns the priced total so far
func (t *Tally) Estimate() model.CostEstimate {
	return t.e.price(t.model, t.rate, t.tok, t.input)
}

// Lines returns the per-call lines in the order they were added
func (t *Tally) Lines() []model.CostLine {
	return t.lines
}
