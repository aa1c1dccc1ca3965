// Package verify checks extracted quotes against the text they claim to come
// from. A quote is accepted only when its normalized form is a contiguous
// substring of the normalized chunk text.
package verify

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// glyphs maps typographic quote and dash variants to ASCII
var glyphs = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`,
	"«", `"`, "»", `"`,
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-",
	"―", "-", "−", "-",
	"…", "...",
)

// Normalize applies the deterministic transform used on both sides of every
// comparison: NFKC, ASCII quotes and dashes, whitespace runs collapsed to a
// single space, outer whitespace stripped. Case is preserved.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = glyphs.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Canonical is Normalize plus optional case folding. It is the identity key
// used by the deduplicator.
func Canonical(s string, caseSensitive bool) string {
	s = Normalize(s)
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// stripOuter removes wrapping quotation marks and ellipses, e.g.
// `"...it shipped on Monday..."` -> `it shipped on Monday`
func stripOuter(s string) string {
	for {
		before := s
		s = strings.TrimSpace(s)
		s = strings.Trim(s, `"'`)
		s = strings.TrimPrefix(s, "...")
		s = strings.TrimSuffix(s, "...")
		if s == before {
			return s
		}
	}
}
