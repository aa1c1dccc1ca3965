// Package pipeline runs the three commands end to end: scan, compile and
// reconstruct. It owns the run directory and every report written to it.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/cost"
	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/store"
)

// Completer is the service every command calls
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// errNoService is returned when a command needs the service but none was
// connected, e.g. a pipeline built for estimates only
var errNoService = errors.New("no inference service configured")

// availability is a service that can be checked before a run spends anything
type availability interface {
	Name() string
	IsAvailable(ctx context.Context) bool
}

// ready fails fast when no service is connected or the connected one cannot
// be reached. A cancelled context is left for the run to report.
func (p *Pipeline) ready(ctx context.Context) error {
	if p.llm == nil {
		return errNoService
	}
	svc, ok := p.llm.(availability)
	if !ok || svc.IsAvailable(ctx) || ctx.Err() != nil {
		return nil
	}
	p.logger.Warn("service preflight failed", zap.String("provider", svc.Name()))
	return &model.ServiceError{Provider: svc.Name(), Err: errors.New("service unreachable; check credentials and base_url")}
}

// Pipeline binds config, the service and the cost estimator
type Pipeline struct {
	cfg       *model.Config
	llm       Completer
	estimator *cost.Estimator
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a pipeline. c may be nil when only estimates are wanted.
func New(cfg *model.Config, c Completer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:       cfg,
		llm:       c,
		estimator: cost.NewEstimator(cfg.Cost),
		logger:    logger,
		now:       time.Now,
	}
}

func (p *Pipeline) workers() int {
	return max(1, p.cfg.Concurrency.Workers)
}

// loadQuotes reads a run's quote store. A missing store is an input error.
func loadQuotes(layout store.Layout) ([]model.QuoteRecord, error) {
	quotes, err := store.LoadQuotes(layout.Quotes())
	if err != nil {
		if store.IsNotExist(err) {
			return nil, &model.InputError{Source: layout.Quotes(), Err: errors.New("no quote store; run scan first")}
		}
		return nil, &model.InputError{Source: layout.Quotes(), Err: err}
	}
	return quotes, nil
}

// costReport starts a report from a tally
func (p *Pipeline) costReport(command string, estimateOnly bool, tally *cost.Tally) *model.CostReport {
	return &model.CostReport{
		Command:      command,
		EstimateOnly: estimateOnly,
		GeneratedAt:  p.now().UTC(),
		Estimate:     tally.Estimate(),
		Calls:        tally.Lines(),
	}
}

// recordActual fills in the usage the service reported
func (p *Pipeline) recordActual(r *model.CostReport, in, out, cached int) {
	r.ActualInputTokens = in
	r.ActualOutputTokens = out
	r.CachedCalls = cached
	if usd, err := p.estimator.Price(p.cfg.LLM.Model, in, out); err == nil {
		r.ActualUSD = usd
	}
}
