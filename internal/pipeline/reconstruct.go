package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/cost"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/reconstruct"
	"github.com/ppiankov/verbatim/internal/store"
)

// ReconstructOptions selects the run to reconstruct entities from
type ReconstructOptions struct {
	RunDir       string
	EstimateOnly bool
}

// ReconstructReport is written next to the entity files
type ReconstructReport struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Quotes      int                        `json:"quotes"`
	Batches     int                        `json:"batches"`
	Drafts      int                        `json:"drafts"`
	Dropped     int                        `json:"dropped"`
	Merged      int                        `json:"merged"`
	Ambiguities int                        `json:"merge_ambiguities"`
	Malformed   int                        `json:"malformed_responses"`
	Entities    int                        `json:"entities"`
	Failures    []reconstruct.BatchFailure `json:"failures,omitempty"`
}

// ReconstructResult is the outcome of a reconstruction. Result is nil for
// estimate-only runs.
type ReconstructResult struct {
	Layout  store.Layout
	Batches int
	Result  *reconstruct.Result
	Cost    *model.CostReport
}

// Reconstruct infers the entities the stored quotes talk about and writes
// them as JSON and markdown, every entity backed by stored quotes
func (p *Pipeline) Reconstruct(ctx context.Context, opts ReconstructOptions) (*ReconstructResult, error) {
	layout := store.Layout{Dir: opts.RunDir}
	quotes, err := loadQuotes(layout)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, &model.InputError{Source: layout.Quotes(), Err: errors.New("no quotes to reconstruct from")}
	}

	r := reconstruct.New(p.llm, p.cfg.Reconstruct, p.cfg.LLM.MaxTokens, p.cfg.Verify.CaseSensitive, p.logger)
	batches := r.Batches(quotes)

	tally, err := p.estimator.NewTally(p.cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	for _, b := range batches {
		req := reconstruct.Request(b, p.cfg.LLM.MaxTokens)
		tally.Add(cost.Call{Kind: "reconstruct", Key: fmt.Sprintf("batch %d", b.Index+1), Items: len(b.Quotes), Text: req.System + "\n\n" + req.Prompt})
	}
	costReport := p.costReport("reconstruct", opts.EstimateOnly, tally)
	res := &ReconstructResult{Layout: layout, Batches: len(batches), Cost: costReport}

	if opts.EstimateOnly {
		if err := store.WriteJSON(layout.CostReport("reconstruct"), costReport); err != nil {
			return nil, err
		}
		return res, nil
	}
	if err := p.ready(ctx); err != nil {
		return nil, err
	}

	out, err := r.Reconstruct(ctx, quotes)
	if err != nil {
		return nil, err
	}
	res.Result = out

	entities := out.Entities
	if entities == nil {
		entities = []model.Entity{}
	}
	if err := store.WriteJSON(layout.EntitiesJSON(), entities); err != nil {
		return nil, err
	}
	if err := store.WriteFile(layout.EntitiesMD(), []byte(reconstruct.Render(entities))); err != nil {
		return nil, err
	}
	report := ReconstructReport{
		GeneratedAt: p.now().UTC(),
		Quotes:      len(quotes),
		Batches:     len(batches),
		Drafts:      out.Drafts,
		Dropped:     out.Dropped,
		Merged:      out.Merged,
		Ambiguities: out.Ambiguities,
		Malformed:   out.Malformed,
		Entities:    len(entities),
		Failures:    out.Failures,
	}
	if err := store.WriteJSON(layout.ReconstructReport(), report); err != nil {
		return nil, err
	}

	var in, outTokens int
	for _, u := range out.Usage {
		in += u.InputTokens
		outTokens += u.OutputTokens
	}
	p.recordActual(costReport, in, outTokens, 0)
	if err := store.WriteJSON(layout.CostReport("reconstruct"), costReport); err != nil {
		return nil, err
	}

	p.logger.Info("reconstruct finished",
		zap.Int("quotes", len(quotes)),
		zap.Int("batches", len(batches)),
		zap.Int("entities", len(entities)),
		zap.Int("failures", len(out.Failures)))
	return res, nil
}
