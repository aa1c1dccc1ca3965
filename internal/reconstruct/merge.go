package reconstruct

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/dedupe"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/verify"
)

var nonWord = regexp.MustCompile(`[^\p{L}\p{N} ]+`)

// matchKey is the text two entities are compared on: title and summary,
// lowercased, punctuation dropped
func matchKey(e model.Entity) string {
	s := verify.Canonical(e.Title+" "+e.Summary, false)
	s = nonWord.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// MergeResult is the canonical entity set after cross-batch merging
type MergeResult struct {
	Entities    []model.Entity
	Merged      int // drafts folded into another entity
	Ambiguities int // drafts kept apart because a score sat exactly at the threshold
}

// Merge collapses near-duplicate drafts. A draft joins the most similar
// entity scoring strictly above threshold; a score exactly at the threshold
// keeps them apart and is counted as an ambiguity. Drafts are put into a
// canonical order first, so the result does not depend on the order batches
// finished in.
func Merge(drafts []model.Entity, threshold float64, logger *zap.Logger) MergeResult {
	if logger == nil {
		logger = zap.NewNop()
	}

	type item struct {
		entity model.Entity
		key    string
	}

	sorted := make([]item, len(drafts))
	for i, d := range drafts {
		d = normalizeEntity(d)
		sorted[i] = item{entity: d, key: matchKey(d)}
	}
	slices.SortStableFunc(sorted, func(a, b item) int {
		return cmp.Or(
			strings.Compare(a.key, b.key),
			strings.Compare(a.entity.Title, b.entity.Title),
			strings.Compare(a.entity.Summary, b.entity.Summary),
			strings.Compare(string(a.entity.Status), string(b.entity.Status)),
			strings.Compare(evidenceKey(a.entity), evidenceKey(b.entity)),
			strings.Compare(strings.Join(a.entity.NamesDetected, "\x00"), strings.Join(b.entity.NamesDetected, "\x00")),
		)
	})

	var res MergeResult
	var merged []item
	for _, d := range sorted {
		best, bestScore := -1, 0.0
		var ties []string
		for i, m := range merged {
			score := dedupe.Similarity(d.key, m.key)
			switch dedupe.Decide(score, threshold) {
			case dedupe.Ambiguous:
				ties = append(ties, m.entity.Title)
			case dedupe.Duplicate:
				if best < 0 || score > bestScore {
					best, bestScore = i, score
				}
			}
		}

		if best < 0 {
			if len(ties) > 0 {
				res.Ambiguities++
				logger.Warn("entity similarity at threshold, keeping as distinct",
					zap.Error(model.ErrMergeAmbiguity),
					zap.String("title", d.entity.Title),
					zap.Strings("others", ties),
					zap.Float64("threshold", threshold))
			}
			merged = append(merged, d)
			continue
		}
		combined := combine(merged[best].entity, d.entity)
		merged[best] = item{entity: combined, key: matchKey(combined)}
		res.Merged++
	}

	res.Entities = make([]model.Entity, len(merged))
	for i, m := range merged {
		res.Entities[i] = m.entity
	}
	slices.SortStableFunc(res.Entities, func(a, b model.Entity) int {
		return cmp.Or(
			strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)),
			strings.Compare(a.Title, b.Title),
			strings.Compare(a.Summary, b.Summary),
		)
	})
	return res
}

// combine merges b into a. Evidence and names are unioned; the longer
// summary wins along with its title; status keeps the furthest progress.
func combine(a, b model.Entity) model.Entity {
	out := a
	if preferSummary(b.Summary, a.Summary) {
		out.Title, out.Summary = b.Title, b.Summary
	}
	if b.Status.Rank() > a.Status.Rank() {
		out.Status = b.Status
	}
	out.Evidence = unionEvidence(a.Evidence, b.Evidence)
	out.NamesDetected = unionNames(a.NamesDetected, b.NamesDetected)
	return out
}

// preferSummary reports whether candidate replaces current: longer wins,
// ties go to the lexically smaller text
func preferSummary(candidate, current string) bool {
	lc, lr := len([]rune(candidate)), len([]rune(current))
	if lc != lr {
		return lc > lr
	}
	return candidate < current
}

func normalizeEntity(e model.Entity) model.Entity {
	e.Evidence = unionEvidence(nil, e.Evidence)
	e.NamesDetected = unionNames(nil, e.NamesDetected)
	if e.Status == "" {
		e.Status = model.StatusUnknown
	}
	return e
}

func unionEvidence(a, b []model.EntityEvidence) []model.EntityEvidence {
	seen := make(map[model.EntityEvidence]bool, len(a)+len(b))
	var out []model.EntityEvidence
	for _, list := range [][]model.EntityEvidence{a, b} {
		for _, ev := range list {
			if !seen[ev] {
				seen[ev] = true
				out = append(out, ev)
			}
		}
	}
	slices.SortFunc(out, compareEvidence)
	return out
}

func compareEvidence(a, b model.EntityEvidence) int {
	return cmp.Or(
		strings.Compare(a.Locator.File, b.Locator.File),
		cmp.Compare(a.Locator.PageStart, b.Locator.PageStart),
		cmp.Compare(a.Locator.PageEnd, b.Locator.PageEnd),
		strings.Compare(a.Locator.Conversation, b.Locator.Conversation),
		strings.Compare(a.Quote, b.Quote),
	)
}

func evidenceKey(e model.Entity) string {
	parts := make([]string, len(e.Evidence))
	for i, ev := range e.Evidence {
		parts[i] = ev.Locator.String() + "\x00" + ev.Quote
	}
	return strings.Join(parts, "\x01")
}

// unionNames merges name lists case-insensitively, keeping the first
// spelling in sorted order
func unionNames(a, b []string) []string {
	all := append(slices.Clone(a), b...)
	slices.SortFunc(all, func(x, y string) int {
		return cmp.Or(strings.Compare(strings.ToLower(x), strings.ToLower(y)), strings.Compare(x, y))
	})
	var out []string
	for _, n := range all {
		if len(out) > 0 && strings.EqualFold(out[len(out)-1], n) {
			continue
		}
		out = append(out, n)
	}
	return out
}
