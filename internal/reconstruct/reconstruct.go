// Package reconstruct infers the apps and tools a corpus talks about. Quotes
// are sent to the inference service in bounded batches; the drafts that come
// back are merged across batches into one canonical entity set.
package reconstruct

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/model"
)

// Completer is the part of a provider the reconstructor needs
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// BatchFailure records a batch whose call failed after retries
type BatchFailure struct {
	Batch  int    `json:"batch"`
	Quotes int    `json:"quotes"`
	Error  string `json:"error"`
}

// BatchUsage is the token usage of one batch call
type BatchUsage struct {
	Batch        int
	Quotes       int
	InputTokens  int
	OutputTokens int
}

// Result is a finished reconstruction
type Result struct {
	Entities    []model.Entity
	Drafts      int // entities proposed across all batches
	Dropped     int // proposals without valid shape or evidence
	Merged      int
	Ambiguities int
	Malformed   int // batches whose response was unusable
	Failures    []BatchFailure
	Usage       []BatchUsage
}

// Reconstructor owns the canonical entity set of one reconstruction
type Reconstructor struct {
	llm           Completer
	cfg           model.ReconstructConfig
	maxTokens     int
	caseSensitive bool
	logger        *zap.Logger
}

// New creates a reconstructor
func New(c Completer, cfg model.ReconstructConfig, maxTokens int, caseSensitive bool, logger *zap.Logger) *Reconstructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{llm: c, cfg: cfg, maxTokens: maxTokens, caseSensitive: caseSensitive, logger: logger}
}

// Batches splits quotes the way Reconstruct will
func (r *Reconstructor) Batches(quotes []model.QuoteRecord) []Batch {
	return Batches(quotes, r.cfg.BatchSize, r.cfg.BatchChars)
}

// Reconstruct runs every batch, at most cfg.Concurrency at a time, and merges
// the drafts. A failed batch is recorded and skipped; only cancellation
// stops the run.
func (r *Reconstructor) Reconstruct(ctx context.Context, quotes []model.QuoteRecord) (*Result, error) {
	batches := r.Batches(quotes)

	drafts := make([][]model.Entity, len(batches))
	usage := make([]BatchUsage, len(batches))
	res := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Concurrency))

	for _, b := range batches {
		g.Go(func() error {
			resp, err := r.llm.Complete(gctx, Request(b, r.maxTokens))
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				r.logger.Warn("reconstruct batch failed",
					zap.Int("batch", b.Index),
					zap.Int("quotes", len(b.Quotes)),
					zap.Error(err))
				mu.Lock()
				res.Failures = append(res.Failures, BatchFailure{Batch: b.Index, Quotes: len(b.Quotes), Error: err.Error()})
				mu.Unlock()
				return nil
			}

			usage[b.Index] = BatchUsage{
				Batch:        b.Index,
				Quotes:       len(b.Quotes),
				InputTokens:  resp.InputTokens,
				OutputTokens: resp.OutputTokens,
			}

			p := parseResponse(resp.Text, b, r.caseSensitive)
			if p.malformed != "" {
				r.logger.Warn("malformed reconstruct response",
					zap.Int("batch", b.Index),
					zap.String("reason", p.malformed))
			}

			mu.Lock()
			defer mu.Unlock()
			if p.malformed != "" {
				res.Malformed++
			}
			res.Dropped += p.dropped
			drafts[b.Index] = p.drafts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	var all []model.Entity
	for _, d := range drafts {
		all = append(all, d...)
	}
	res.Drafts = len(all)

	merged := Merge(all, r.cfg.Threshold, r.logger)
	res.Entities = merged.Entities
	res.Merged = merged.Merged
	res.Ambiguities = merged.Ambiguities

	for _, u := range usage {
		if u.Quotes > 0 {
			res.Usage = append(res.Usage, u)
		}
	}
	slices.SortFunc(res.Failures, func(a, b BatchFailure) int { return cmp.Compare(a.Batch, b.Batch) })
	return res, nil
}
