// Package dedupe owns the canonical quote set of a run. Inserts are
// serialized; the first-seen text of a quote is never replaced, duplicates
// only extend its provenance. Similarity is not transitive, so a chain of
// near-duplicates can collapse differently depending on insert order.
package dedupe

import (
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/verify"
)

// InsertResult reports what happened to an inserted quote
type InsertResult struct {
	New       bool
	Record    model.QuoteRecord // canonical record after the insert
	Score     float64           // best fuzzy score, 1 for exact duplicates
	Ambiguous bool              // a same-category record sat exactly at the threshold
}

// Deduplicator is the single-writer canonical quote collection
type Deduplicator struct {
	mu            sync.Mutex
	runID         string
	seq           *Sequence
	threshold     float64
	fuzzy         bool
	caseSensitive bool
	logger        *zap.Logger

	records    []*entry
	byKey      map[string]*entry
	byCategory map[string][]*entry

	ambiguities int
}

type entry struct {
	key    string
	record model.QuoteRecord
}

// Sequence hands out first-seen positions within a run. Deduplicators of
// the same run share one so positions never collide.
type Sequence struct {
	mu   sync.Mutex
	next int
}

// Next returns the next position
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++
	return n
}

// New creates an empty deduplicator for a run. seq may be nil when the
// deduplicator is the only one in the run.
func New(runID string, seq *Sequence, cfg model.DedupeConfig, caseSensitive bool, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if seq == nil {
		seq = &Sequence{}
	}
	return &Deduplicator{
		runID:         runID,
		seq:           seq,
		threshold:     cfg.Threshold,
		fuzzy:         cfg.Fuzzy,
		caseSensitive: caseSensitive,
		logger:        logger,
		byKey:         make(map[string]*entry),
		byCategory:    make(map[string][]*entry),
	}
}

// Seed loads records from previous runs so duplicates across runs merge
// into them. Seeded records keep their own run id and position and are
// never merged with one another; when two share a key the first one
// receives later duplicates.
func (d *Deduplicator) Seed(records []model.QuoteRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range records {
		r = cloneRecord(r)
		if len(r.Provenance) == 0 {
			r.Provenance = []model.Locator{r.Locator}
		}
		key := verify.Canonical(r.Quote, d.caseSensitive)
		cat := categoryKey(r.Category)

		e := &entry{key: key, record: r}
		d.records = append(d.records, e)
		if _, ok := d.byKey[key]; !ok {
			d.byKey[key] = e
		}
		d.byCategory[cat] = append(d.byCategory[cat], e)
	}
}

// Insert adds a verified quote, merging it into an existing canonical record
// when it is an exact or near duplicate.
func (d *Deduplicator) Insert(q model.QuoteRecord) InsertResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := verify.Canonical(q.Quote, d.caseSensitive)
	observed := q.Provenance
	if len(observed) == 0 {
		observed = []model.Locator{q.Locator}
	}

	if e, ok := d.byKey[key]; ok {
		e.record.Provenance = append(e.record.Provenance, observed...)
		return InsertResult{Record: cloneRecord(e.record), Score: 1}
	}

	cat := categoryKey(q.Category)
	var ambiguous bool
	if d.fuzzy {
		best, score, amb := d.bestMatch(cat, key)
		ambiguous = amb
		if best != nil {
			best.record.Provenance = append(best.record.Provenance, observed...)
			return InsertResult{Record: cloneRecord(best.record), Score: score, Ambiguous: ambiguous}
		}
		if ambiguous {
			d.ambiguities++
			d.logger.Warn("similarity at threshold, keeping as distinct",
				zap.Error(model.ErrMergeAmbiguity),
				zap.String("quote", q.Quote),
				zap.String("category", q.Category),
				zap.Float64("threshold", d.threshold),
				zap.Stringer("locator", q.Locator),
			)
		}
	}

	rec := q
	rec.Provenance = slices.Clone(observed)
	rec.Tags = slices.Clone(q.Tags)
	rec.Verified = true
	if rec.FirstSeenRunID == "" {
		rec.FirstSeenRunID = d.runID
	}
	if rec.FirstSeenRunID == d.runID {
		rec.Seq = d.seq.Next()
	}

	e := &entry{key: key, record: rec}
	d.records = append(d.records, e)
	d.byKey[key] = e
	d.byCategory[cat] = append(d.byCategory[cat], e)

	return InsertResult{New: true, Record: cloneRecord(rec), Ambiguous: ambiguous}
}

// bestMatch finds the most similar record in the category scoring strictly
// above the threshold. Ties go to the earliest record.
func (d *Deduplicator) bestMatch(cat, key string) (*entry, float64, bool) {
	var best *entry
	bestScore := 0.0
	ambiguous := false
	for _, e := range d.byCategory[cat] {
		score := Similarity(key, e.key)
		switch Decide(score, d.threshold) {
		case Ambiguous:
			ambiguous = true
		case Duplicate:
			if best == nil || score > bestScore {
				best, bestScore = e, score
			}
		}
	}
	return best, bestScore, ambiguous
}

// Records returns copies of the canonical records in first-seen order
func (d *Deduplicator) Records() []model.QuoteRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.QuoteRecord, len(d.records))
	for i, e := range d.records {
		out[i] = cloneRecord(e.record)
	}
	return out
}

// Len returns the number of canonical records
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Ambiguities returns how many inserts hit a score exactly at the threshold
func (d *Deduplicator) Ambiguities() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ambiguities
}

func categoryKey(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return model.Untagged
	}
	return c
}

func cloneRecord(r model.QuoteRecord) model.QuoteRecord {
	r.Tags = slices.Clone(r.Tags)
	r.Provenance = slices.Clone(r.Provenance)
	return r
}
