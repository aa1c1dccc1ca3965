package verify

import (
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/verbatim/internal/model"
)

// Reason explains why a candidate was rejected
type Reason string

const (
	ReasonEmpty    Reason = "empty"
	ReasonTooShort Reason = "too_short"
	ReasonNoMatch  Reason = "no_match"
)

// Result is the outcome of verifying one candidate. Rejection is an expected
// filtering outcome, not an error.
type Result struct {
	Accepted bool
	Quote    string // normalized verbatim span, set when accepted
	Reason   Reason // set when rejected
	Fallback bool   // accepted only after stripping outer quotes/ellipses
}

// Verifier holds the verification policy
type Verifier struct {
	minLength     int
	caseSensitive bool
}

// NewVerifier creates a verifier from config
func NewVerifier(cfg model.VerifyConfig) *Verifier {
	return &Verifier{
		minLength:     cfg.MinLength,
		caseSensitive: cfg.CaseSensitive,
	}
}

// Source is chunk text normalized once and reused for every candidate
type Source struct {
	text   string
	folded string // lowercase form, only for case-insensitive matching
}

// Prepare normalizes chunk text for repeated verification
func (v *Verifier) Prepare(chunkText string) Source {
	src := Source{text: Normalize(chunkText)}
	if !v.caseSensitive {
		src.folded = strings.ToLower(src.text)
	}
	return src
}

// Verify checks a candidate quote against raw chunk text
func (v *Verifier) Verify(candidate, chunkText string) Result {
	return v.VerifyAgainst(candidate, v.Prepare(chunkText))
}

// VerifyAgainst checks a candidate quote against prepared chunk text
func (v *Verifier) VerifyAgainst(candidate string, src Source) Result {
	q := Normalize(candidate)
	if q == "" {
		return Result{Reason: ReasonEmpty}
	}
	if utf8.RuneCountInString(q) < v.minLength {
		return Result{Reason: ReasonTooShort}
	}

	if span, ok := v.match(q, src); ok {
		return Result{Accepted: true, Quote: span}
	}

	// One retry without wrapping quotes/ellipses
	stripped := Normalize(stripOuter(q))
	if stripped == q {
		return Result{Reason: ReasonNoMatch}
	}
	if stripped == "" {
		return Result{Reason: ReasonEmpty}
	}
	if utf8.RuneCountInString(stripped) < v.minLength {
		return Result{Reason: ReasonTooShort}
	}
	if span, ok := v.match(stripped, src); ok {
		return Result{Accepted: true, Quote: span, Fallback: true}
	}
	return Result{Reason: ReasonNoMatch}
}

// match returns the span of src equal to q. In case-insensitive mode the span
// is cut from the source so stored text keeps the source's casing.
func (v *Verifier) match(q string, src Source) (string, bool) {
	if v.caseSensitive {
		if strings.Contains(src.text, q) {
			return q, true
		}
		return "", false
	}

	fq := strings.ToLower(q)
	idx := strings.Index(src.folded, fq)
	if idx < 0 {
		return "", false
	}
	// lowercasing maps rune to rune, so rune positions line up even where
	// byte lengths differ
	start := byteOffset(src.text, utf8.RuneCountInString(src.folded[:idx]))
	end := start + byteOffset(src.text[start:], utf8.RuneCountInString(fq))
	return src.text[start:end], true
}

// byteOffset returns where the nth rune of s starts
func byteOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
