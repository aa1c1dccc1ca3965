package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verbatim/internal/model"
)

func newTestVerifier() *Verifier {
	return NewVerifier(model.VerifyConfig{MinLength: 8, CaseSensitive: true})
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  AI will  change\n\teverything ":   "AI will change everything",
		"“smart” quotes and ‘single’ ones": `"smart" quotes and 'single' ones`,
		"dash — and – hyphen":               "dash - and - hyphen",
		"ellipsis… here":                    "ellipsis... here",
		"non breaking":                 "non breaking",
		"":                                  "",
		"Case Is Kept":                      "Case Is Kept",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestCanonical_CaseFolding(t *testing.T) {
	assert.Equal(t, "Hello World", Canonical("Hello   World", true))
	assert.Equal(t, "hello world", Canonical("Hello   World", false))
}

func TestVerify_ExactMatch(t *testing.T) {
	v := newTestVerifier()
	res := v.Verify("The cat sat on the mat.", "The cat sat on the mat.")
	require.True(t, res.Accepted)
	assert.Equal(t, "The cat sat on the mat.", res.Quote)
	assert.False(t, res.Fallback)
}

func TestVerify_NoMatch(t *testing.T) {
	v := newTestVerifier()
	res := v.Verify("The dog sat on the mat.", "The cat sat on the mat.")
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNoMatch, res.Reason)
}

func TestVerify_WhitespaceAndGlyphs(t *testing.T) {
	v := newTestVerifier()
	chunk := "USER: I said “ship it”\n\n   — then   we   waited."
	res := v.Verify(`I said "ship it" - then we waited.`, chunk)
	require.True(t, res.Accepted)
}

func TestVerify_CaseSensitivePolicy(t *testing.T) {
	v := newTestVerifier()
	res := v.Verify("glyph drive is the name", "Glyph Drive is the name we picked")
	assert.False(t, res.Accepted, "case-sensitive verification must not accept altered proper nouns")

	insensitive := NewVerifier(model.VerifyConfig{MinLength: 8, CaseSensitive: false})
	res = insensitive.Verify("glyph drive is the name", "Glyph Drive is the name we picked")
	require.True(t, res.Accepted)
	assert.Equal(t, "Glyph Drive is the name", res.Quote, "span keeps source casing")
}

func TestVerify_CaseInsensitiveSpanWhenLowercaseChangesLength(t *testing.T) {
	insensitive := NewVerifier(model.VerifyConfig{MinLength: 8, CaseSensitive: false})

	// U+0130 is two bytes and lowercases to the one-byte "i"
	tests := []struct {
		chunk     string
		candidate string
		want      string
	}{
		{"We met in İstanbul last spring.", "we met in istanbul", "We met in İstanbul"},
		{"İİ first. Then The Cat Sat On The Mat.", "the cat sat on the mat.", "The Cat Sat On The Mat."},
		{"İzmir Is Where The Tool Was Born", "izmir is where", "İzmir Is Where"},
	}
	for _, tt := range tests {
		res := insensitive.Verify(tt.candidate, tt.chunk)
		require.True(t, res.Accepted, tt.candidate)
		assert.Equal(t, tt.want, res.Quote)
		assert.True(t, strings.Contains(Normalize(tt.chunk), res.Quote), "span must be cut from the source")
	}
}

func TestVerify_FallbackStripsOuterQuotes(t *testing.T) {
	v := newTestVerifier()
	chunk := "We decided it shipped on Monday after all."
	res := v.Verify(`"...it shipped on Monday..."`, chunk)
	require.True(t, res.Accepted)
	assert.True(t, res.Fallback)
	assert.Equal(t, "it shipped on Monday", res.Quote)
}

func TestVerify_FallbackStillNoMatch(t *testing.T) {
	v := newTestVerifier()
	res := v.Verify(`"it shipped on Friday"`, "it shipped on Monday")
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNoMatch, res.Reason)
}

func TestVerify_EmptyAndShort(t *testing.T) {
	v := newTestVerifier()
	chunk := "short words here"

	res := v.Verify("   ", chunk)
	assert.Equal(t, ReasonEmpty, res.Reason)

	res = v.Verify("short", chunk)
	assert.Equal(t, ReasonTooShort, res.Reason)

	res = v.Verify(`"..."`, chunk)
	assert.False(t, res.Accepted)
}

func TestVerify_Soundness(t *testing.T) {
	v := newTestVerifier()
	chunk := "[p.1]\nUSER: The  quick brown fox\njumps over the “lazy” dog.\n\n[p.2]\nASSISTANT: Indeed it does — every time."
	candidates := []string{
		"The quick brown fox jumps over",
		`jumps over the "lazy" dog.`,
		"Indeed it does - every time.",
		"The slow brown fox",
		"'Indeed it does'",
	}

	src := v.Prepare(chunk)
	normChunk := Normalize(chunk)
	for _, c := range candidates {
		res := v.VerifyAgainst(c, src)
		if res.Accepted {
			assert.True(t, strings.Contains(normChunk, Normalize(res.Quote)), "accepted %q is not in chunk", res.Quote)
		}
	}
}
