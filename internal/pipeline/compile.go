package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/verbatim/internal/compile"
	"github.com/ppiankov/verbatim/internal/cost"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/store"
)

// CompileOptions selects the run to compile
type CompileOptions struct {
	RunDir       string
	EstimateOnly bool
	Headings     bool // ask the service for a heading per bundle
}

// CompileResult is the outcome of a compile. Cost is set when headings were
// requested or only an estimate was wanted.
type CompileResult struct {
	Layout           store.Layout
	Compilation      *compile.Compilation
	Cost             *model.CostReport
	HeadingsRejected int
	HeadingFailures  int
}

// Compile groups stored quotes into bundles and writes them. Headings are
// optional; a heading that fails or is rejected leaves its bundle without one.
func (p *Pipeline) Compile(ctx context.Context, opts CompileOptions) (*CompileResult, error) {
	layout := store.Layout{Dir: opts.RunDir}
	quotes, err := loadQuotes(layout)
	if err != nil {
		return nil, err
	}

	c := compile.Compile(quotes)
	res := &CompileResult{Layout: layout, Compilation: c}

	if opts.Headings || opts.EstimateOnly {
		tally, err := p.estimator.NewTally(p.cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		for _, b := range c.Bundles {
			req := compile.HeadingRequest(b, p.cfg.LLM.MaxTokens)
			tally.Add(cost.Call{Kind: "compile", Key: b.Key.String(), Items: len(b.Quotes), Text: req.System + "\n\n" + req.Prompt})
		}
		res.Cost = p.costReport("compile", opts.EstimateOnly, tally)
	}
	if opts.EstimateOnly {
		if err := store.WriteJSON(layout.CostReport("compile"), res.Cost); err != nil {
			return nil, err
		}
		return res, nil
	}

	if opts.Headings {
		if err := p.ready(ctx); err != nil {
			return nil, err
		}
		in, out, err := p.writeHeadings(ctx, c, res)
		if err != nil {
			return nil, err
		}
		p.recordActual(res.Cost, in, out, 0)
	}

	for _, b := range c.Bundles {
		if err := store.WriteFile(layout.Bundle(b.Slug), []byte(compile.Render(b))); err != nil {
			return nil, err
		}
	}
	if err := store.WriteFile(layout.BundleIndex(), []byte(compile.RenderIndex(c))); err != nil {
		return nil, err
	}
	if res.Cost != nil {
		if err := store.WriteJSON(layout.CostReport("compile"), res.Cost); err != nil {
			return nil, err
		}
	}

	p.logger.Info("compile finished",
		zap.Int("quotes", len(quotes)),
		zap.Int("bundles", c.Len()),
		zap.Int("headings_rejected", res.HeadingsRejected),
		zap.Int("heading_failures", res.HeadingFailures))
	return res, nil
}

// writeHeadings fills in bundle headings concurrently. Service errors are
// counted and skipped; only cancellation aborts.
func (p *Pipeline) writeHeadings(ctx context.Context, c *compile.Compilation, res *CompileResult) (int, int, error) {
	w := compile.NewHeadingWriter(p.llm, p.cfg.LLM.MaxTokens, p.logger)

	var (
		mu      sync.Mutex
		in, out int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for _, b := range c.Bundles {
		g.Go(func() error {
			hr, err := w.Write(gctx, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, context.Canceled) {
					return err
				}
				res.HeadingFailures++
				p.logger.Warn("heading failed", zap.String("bundle", b.Key.String()), zap.Error(err))
				return nil
			}
			in += hr.InputTokens
			out += hr.OutputTokens
			if hr.Rejected != "" {
				res.HeadingsRejected++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return in, out, nil
}
