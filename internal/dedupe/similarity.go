package dedupe

import (
	"math"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity returns 1 - editDistance/maxLen over runes, in [0,1].
// Edit distance is symmetric, so Similarity(a, b) == Similarity(b, a).
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(maxLen)
}

// scoreEpsilon absorbs float noise when comparing a score to the threshold
const scoreEpsilon = 1e-9

// Decision classifies a score against a threshold
type Decision int

const (
	Distinct  Decision = iota
	Duplicate          // score strictly above threshold
	Ambiguous          // score exactly at threshold: treated as distinct, flagged for review
)

// Decide compares score with threshold
func Decide(score, threshold float64) Decision {
	switch {
	case math.Abs(score-threshold) <= scoreEpsilon:
		return Ambiguous
	case score > threshold:
		return Duplicate
	default:
		return Distinct
	}
}
