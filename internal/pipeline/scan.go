package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/cost"
	"github.com/ppiankov/verbatim/internal/dedupe"
	"github.com/ppiankov/verbatim/internal/extract"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/source"
	"github.com/ppiankov/verbatim/internal/store"
	"github.com/ppiankov/verbatim/internal/verify"
	"github.com/ppiankov/verbatim/internal/worker"
)

// ScanOptions selects what a scan reads and where it writes
type ScanOptions struct {
	Source       string // file, directory or http(s) URL
	OutDir       string
	EstimateOnly bool
	Progress     func(Progress)
}

// Progress is reported after each chunk is stored or recorded as failed
type Progress struct {
	File      string
	FileIndex int
	FileCount int
	Chunks    int // chunks in this file
	Done      int // chunks of this file finished, failed ones included
}

// ScanResult is the outcome of a scan. Report is nil for estimate-only runs.
type ScanResult struct {
	Layout store.Layout
	Report *model.RunReport
	Cost   *model.CostReport
}

// Scan extracts, verifies, deduplicates and stores quotes from a source.
// The cost estimate is computed before any call; with EstimateOnly nothing
// else happens. Chunk failures are recorded and skipped. Cancellation stops
// new calls, keeps everything already stored and marks the report cancelled.
func (p *Pipeline) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	layout := store.Layout{Dir: opts.OutDir}

	srcOpts, err := source.OptionsFromConfig(p.cfg.Scan)
	if err != nil {
		return nil, &model.InputError{Source: "scan.role", Err: err}
	}
	tally, err := p.estimator.NewTally(p.cfg.LLM.Model)
	if err != nil {
		return nil, err
	}

	path := opts.Source
	if source.IsRemote(path) {
		p.logger.Info("downloading remote source", zap.String("url", path))
		path, err = source.NewFetcher(p.cfg.Fetch).Download(ctx, path, layout.Sources())
		if err != nil {
			return nil, err
		}
	}

	files, err := source.List(path)
	if err != nil {
		return nil, err
	}
	chunks, err := p.plan(files, srcOpts, tally)
	if err != nil {
		return nil, err
	}

	costReport := p.costReport("scan", opts.EstimateOnly, tally)
	if opts.EstimateOnly {
		if err := store.WriteJSON(layout.CostReport("scan"), costReport); err != nil {
			return nil, err
		}
		return &ScanResult{Layout: layout, Cost: costReport}, nil
	}
	if err := p.ready(ctx); err != nil {
		return nil, err
	}

	existing, err := store.LoadQuotes(layout.Quotes())
	if err != nil && !store.IsNotExist(err) {
		return nil, &model.InputError{Source: layout.Quotes(), Err: err}
	}

	run, err := p.newScanRun(opts, layout, files, chunks, existing)
	if err != nil {
		return nil, err
	}
	p.logger.Info("scan started",
		zap.String("run_id", run.report.RunID),
		zap.Int("files", len(files)),
		zap.Int("chunks", len(costReport.Calls)),
		zap.Int("existing_quotes", len(existing)))

	runErr := run.execute(ctx, srcOpts)
	finishErr := run.finish()
	if runErr != nil {
		return nil, runErr
	}
	if finishErr != nil {
		return nil, finishErr
	}

	p.recordActual(costReport, run.inputTokens, run.outputTokens, run.cachedCalls)
	if err := store.WriteJSON(layout.CostReport("scan"), costReport); err != nil {
		return nil, err
	}

	return &ScanResult{Layout: layout, Report: run.report, Cost: costReport}, nil
}

// plan walks every chunk once to price the run. It holds one chunk at a
// time and returns the chunk count per file.
func (p *Pipeline) plan(files []source.File, opts source.Options, tally *cost.Tally) ([]int, error) {
	counts := make([]int, len(files))
	seq := 0
	for i, f := range files {
		r, err := source.OpenFile(f, opts, seq)
		if err != nil {
			return nil, err
		}
		for {
			c, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = r.Close()
				return nil, inputError(f, err)
			}
			req := extract.Request(c, p.cfg.LLM.MaxTokens)
			tally.Add(cost.Call{Kind: "scan", Key: c.Locator.String(), Text: req.System + "\n\n" + req.Prompt})
			counts[i]++
			seq = c.Seq + 1
		}
		_ = r.Close()
	}
	return counts, nil
}

func inputError(f source.File, err error) error {
	var ie *model.InputError
	if errors.As(err, &ie) {
		return err
	}
	return &model.InputError{Source: f.Path, Err: err}
}

// scanRun is the mutable state of one scan. Only the consumer goroutine
// touches it.
type scanRun struct {
	p        *Pipeline
	opts     ScanOptions
	layout   store.Layout
	files    []source.File
	chunks   []int
	existing []model.QuoteRecord

	report  *model.RunReport
	log     *store.QuoteLog
	seq     *dedupe.Sequence
	merged  *dedupe.Deduplicator
	perFile map[int]*dedupe.Deduplicator

	done         []int
	inputTokens  int
	outputTokens int
	cachedCalls  int
}

func (p *Pipeline) newScanRun(opts ScanOptions, layout store.Layout, files []source.File, chunks []int, existing []model.QuoteRecord) (*scanRun, error) {
	log, err := store.OpenQuoteLog(layout.Quotes())
	if err != nil {
		return nil, err
	}

	role, _ := model.ParseRole(p.cfg.Scan.Role)
	report := &model.RunReport{
		RunID:     uuid.NewString(),
		Source:    opts.Source,
		Provider:  p.cfg.LLM.Provider,
		Model:     p.cfg.LLM.Model,
		Role:      role,
		StartedAt: p.now().UTC(),
		Files:     make([]model.FileReport, len(files)),
		Rejected:  make(model.RejectionCounts),
	}
	for i, f := range files {
		report.Files[i].File = f.Name
	}

	run := &scanRun{
		p:        p,
		opts:     opts,
		layout:   layout,
		files:    files,
		chunks:   chunks,
		existing: existing,
		report:   report,
		log:      log,
		seq:      &dedupe.Sequence{},
		perFile:  make(map[int]*dedupe.Deduplicator),
		done:     make([]int, len(files)),
	}
	if p.cfg.Dedupe.Scope != model.DedupeScopePerFile {
		run.merged = run.newDeduper()
		run.merged.Seed(existing)
	}
	return run, nil
}

func (r *scanRun) newDeduper() *dedupe.Deduplicator {
	return dedupe.New(r.report.RunID, r.seq, r.p.cfg.Dedupe, r.p.cfg.Verify.CaseSensitive, r.p.logger)
}

// deduper returns the deduplicator for a file. Per-file scope seeds each one
// with the stored records first seen in that file.
func (r *scanRun) deduper(file int) *dedupe.Deduplicator {
	if r.merged != nil {
		return r.merged
	}
	if d, ok := r.perFile[file]; ok {
		return d
	}
	d := r.newDeduper()
	var seed []model.QuoteRecord
	for _, q := range r.existing {
		if q.Locator.File == r.files[file].Name {
			seed = append(seed, q)
		}
	}
	d.Seed(seed)
	r.perFile[file] = d
	return d
}

// chunkJob extracts and verifies one chunk on a pool worker
type chunkJob struct {
	chunk     model.Chunk
	file      int
	runID     string
	extractor *extract.Client
	verifier  *verify.Verifier
}

type chunkResult struct {
	chunk     model.Chunk
	file      int
	extracted *extract.Result
	verified  []model.QuoteRecord
	rejected  map[verify.Reason]int
	err       error
}

func (r *chunkResult) GetError() error { return r.err }

func (j *chunkJob) Execute(ctx context.Context) worker.Result {
	res := &chunkResult{chunk: j.chunk, file: j.file, rejected: make(map[verify.Reason]int)}

	out, err := j.extractor.Extract(ctx, j.chunk)
	if err != nil {
		res.err = err
		return res
	}
	res.extracted = out

	src := j.verifier.Prepare(j.chunk.Text)
	for _, c := range out.Candidates {
		v := j.verifier.VerifyAgainst(c.Quote, src)
		if !v.Accepted {
			res.rejected[v.Reason]++
			continue
		}
		res.verified = append(res.verified, model.QuoteRecord{
			Quote:          v.Quote,
			Category:       c.Category,
			Tags:           c.Tags,
			PageStart:      c.PageStart,
			PageEnd:        c.PageEnd,
			Locator:        j.chunk.Locator,
			Provenance:     []model.Locator{j.chunk.Locator},
			Verified:       true,
			FirstSeenRunID: j.runID,
		})
	}
	return res
}

// errCancelled stops the consumer once a chunk reports cancellation
var errCancelled = errors.New("scan cancelled")

// execute streams chunks through the pool and applies results in chunk
// order. The in-flight window bounds how many results wait for an earlier
// chunk, so memory stays flat on large sources.
func (r *scanRun) execute(ctx context.Context, opts source.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := r.p.workers()
	pool := worker.NewPool(ctx, workers)
	pool.Start()
	defer pool.Shutdown()

	extractor := extract.NewClient(r.p.llm, r.p.cfg.LLM.MaxTokens, r.p.logger)
	verifier := verify.NewVerifier(r.p.cfg.Verify)

	inflight := make(chan struct{}, workers*4)
	produced := make(chan error, 1)
	go func() {
		defer pool.CloseInput()
		produced <- r.produce(ctx, pool, opts, inflight, extractor, verifier)
	}()

	var (
		pending  = make(map[int]*chunkResult)
		next     = 0
		applyErr error
	)
consume:
	for res := range pool.Results() {
		cr := res.(*chunkResult)
		pending[cr.chunk.Seq] = cr
		for {
			cr, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			<-inflight
			if err := r.apply(ctx, cr); err != nil {
				applyErr = err
				cancel()
				break consume
			}
		}
	}
	pool.Shutdown()
	produceErr := <-produced

	switch {
	case errors.Is(applyErr, errCancelled):
		r.report.Cancelled = true
		return nil
	case applyErr != nil:
		return applyErr
	case ctx.Err() != nil:
		r.report.Cancelled = true
		return nil
	}
	return produceErr
}

// produce reads chunks in order and submits them, waiting for a free slot
// in the in-flight window before each one
func (r *scanRun) produce(ctx context.Context, pool *worker.Pool, opts source.Options, inflight chan struct{}, extractor *extract.Client, verifier *verify.Verifier) error {
	seq := 0
	for i, f := range r.files {
		cr, err := source.OpenFile(f, opts, seq)
		if err != nil {
			return err
		}
		for {
			c, err := cr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = cr.Close()
				return inputError(f, err)
			}
			seq = c.Seq + 1

			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				_ = cr.Close()
				return ctx.Err()
			}
			job := &chunkJob{chunk: c, file: i, runID: r.report.RunID, extractor: extractor, verifier: verifier}
			if err := pool.Submit(job); err != nil {
				_ = cr.Close()
				return err
			}
		}
		_ = cr.Close()
	}
	return nil
}

// apply folds one chunk's outcome into the store and the report. Only a
// failed store write is fatal.
func (r *scanRun) apply(ctx context.Context, cr *chunkResult) error {
	if cr.err != nil && (ctx.Err() != nil || errors.Is(cr.err, context.Canceled)) {
		return errCancelled
	}

	var delta model.Counts
	defer func() {
		r.report.Counts.Add(delta)
		r.report.Files[cr.file].Counts.Add(delta)
		r.done[cr.file]++
		r.progress(cr.file)
	}()

	if cr.err != nil {
		delta.Failures++
		r.report.Failures = append(r.report.Failures, model.ChunkFailure{Locator: cr.chunk.Locator, Error: cr.err.Error()})
		r.p.logger.Warn("chunk failed",
			zap.String("locator", cr.chunk.Locator.String()),
			zap.Error(cr.err))
		return nil
	}

	out := cr.extracted
	delta.ChunksProcessed++
	delta.Candidates += len(out.Candidates)
	if out.Malformed {
		delta.Malformed++
	}
	r.inputTokens += out.InputTokens
	r.outputTokens += out.OutputTokens
	if out.Cached {
		r.cachedCalls++
	}
	for reason, n := range cr.rejected {
		delta.Rejected += n
		r.report.Rejected[string(reason)] += n
	}

	d := r.deduper(cr.file)
	changed := make([]model.QuoteRecord, 0, len(cr.verified))
	for _, q := range cr.verified {
		delta.Verified++
		res := d.Insert(q)
		if res.New {
			delta.Stored++
		} else {
			delta.Deduplicated++
		}
		if res.Ambiguous && res.New {
			delta.MergeAmbiguities++
		}
		changed = append(changed, res.Record)
	}
	if err := r.log.Append(changed...); err != nil {
		return fmt.Errorf("store quotes: %w", err)
	}
	return nil
}

func (r *scanRun) progress(file int) {
	if r.opts.Progress == nil {
		return
	}
	r.opts.Progress(Progress{
		File:      r.files[file].Name,
		FileIndex: file,
		FileCount: len(r.files),
		Chunks:    r.chunks[file],
		Done:      r.done[file],
	})
}

// finish compacts the store, rewrites the index and writes the run report.
// It runs after partial and cancelled runs too.
func (r *scanRun) finish() error {
	if err := r.log.Close(); err != nil {
		return err
	}
	r.report.FinishedAt = r.p.now().UTC()

	records := r.records()
	var errs []error
	if err := store.Compact(r.layout.Quotes(), records); err != nil {
		errs = append(errs, err)
	}
	if err := store.WriteIndex(r.layout.Index(), records); err != nil {
		errs = append(errs, err)
	}
	if err := store.WriteJSON(r.layout.RunReport(), r.report); err != nil {
		errs = append(errs, err)
	}

	r.p.logger.Info("scan finished",
		zap.String("run_id", r.report.RunID),
		zap.Bool("cancelled", r.report.Cancelled),
		zap.Int("chunks", r.report.Counts.ChunksProcessed),
		zap.Int("failures", r.report.Counts.Failures),
		zap.Int("stored", r.report.Counts.Stored),
		zap.Int("total_quotes", len(records)))
	return errors.Join(errs...)
}

// records returns the final store contents: earlier records in their stored
// order with this run's provenance applied, then this run's new records in
// first-seen order
func (r *scanRun) records() []model.QuoteRecord {
	dedupers := make([]*dedupe.Deduplicator, 0, len(r.perFile)+1)
	if r.merged != nil {
		dedupers = append(dedupers, r.merged)
	}
	for _, d := range r.perFile {
		dedupers = append(dedupers, d)
	}

	updated := make(map[string]model.QuoteRecord)
	var fresh []model.QuoteRecord
	for _, d := range dedupers {
		for _, q := range d.Records() {
			if q.FirstSeenRunID == r.report.RunID {
				fresh = append(fresh, q)
			} else {
				updated[store.RecordKey(q)] = q
			}
		}
	}
	slices.SortFunc(fresh, func(a, b model.QuoteRecord) int { return a.Seq - b.Seq })

	out := make([]model.QuoteRecord, 0, len(r.existing)+len(fresh))
	for _, q := range r.existing {
		if u, ok := updated[store.RecordKey(q)]; ok {
			q = u
		}
		out = append(out, q)
	}
	return append(out, fresh...)
}
