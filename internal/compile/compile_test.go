package compile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/llm/llmtest"
	"github.com/ppiankov/verbatim/internal/model"
)

func quote(seq int, text, category string, tags ...string) model.QuoteRecord {
	loc := model.Locator{File: "notes.pdf", PageStart: seq + 1, PageEnd: seq + 1}
	return model.QuoteRecord{
		Quote:          text,
		Category:       category,
		Tags:           tags,
		PageStart:      loc.PageStart,
		PageEnd:        loc.PageEnd,
		Locator:        loc,
		Provenance:     []model.Locator{loc},
		Verified:       true,
		FirstSeenRunID: "run-1",
		Seq:            seq,
	}
}

func TestCompile_GroupsByCategoryAndLeadTag(t *testing.T) {
	quotes := []model.QuoteRecord{
		quote(0, "We should build the sync engine first.", "plan", "sync", "engine"),
		quote(1, "I love how quiet mornings feel.", "feeling"),
		quote(2, "The sync engine needs offline support.", "plan", "sync"),
		quote(3, "Engine work can wait a week.", "plan", "engine", "sync"),
		quote(4, "Nothing beats a clear head.", ""),
	}

	c := Compile(quotes)
	require.Equal(t, 4, c.Len())

	keys := make([]string, 0, c.Len())
	for _, b := range c.Bundles {
		keys = append(keys, b.Key.String())
	}
	assert.Equal(t, []string{
		"plan × sync",
		"feeling × untagged",
		"plan × engine",
		"untagged × untagged",
	}, keys, "bundles follow first appearance")

	sync, ok := c.Get(Key{Category: "plan", LeadTag: "sync"})
	require.True(t, ok)
	require.Len(t, sync.Quotes, 2)
	assert.Equal(t, 0, sync.Quotes[0].Seq)
	assert.Equal(t, 2, sync.Quotes[1].Seq)
	assert.Equal(t, "plan-sync", sync.Slug)
}

func TestCompile_PreservesEveryQuoteVerbatim(t *testing.T) {
	quotes := []model.QuoteRecord{
		quote(0, "  Spacing   and “curly” quotes stay as stored.", "style", "text"),
		quote(1, "Line one\nline two", "style", "text"),
	}

	c := Compile(quotes)
	total := 0
	for _, b := range c.Bundles {
		total += len(b.Quotes)
		md := Render(b)
		for _, q := range b.Quotes {
			for _, line := range strings.Split(q.Quote, "\n") {
				assert.Contains(t, md, "> "+line)
			}
		}
	}
	assert.Equal(t, len(quotes), total)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plan × sync", "plan-sync"},
		{"Big Ideas × AI/ML", "big-ideas-ai-ml"},
		{"× ×", "untagged"},
		{"", "untagged"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestCompile_SlugCollisions(t *testing.T) {
	c := Compile([]model.QuoteRecord{
		quote(0, "First quote of the group.", "a b", "c"),
		quote(1, "Second quote of another group.", "a", "b c"),
	})
	require.Equal(t, 2, c.Len())
	assert.Equal(t, "a-b-c", c.Bundles[0].Slug)
	assert.Equal(t, "a-b-c-2", c.Bundles[1].Slug)
}

func TestRender(t *testing.T) {
	q := quote(2, "Ship the beta on Friday.", "plan", "release")
	q.PageStart, q.PageEnd = 3, 4
	q.Locator.PageEnd = 4
	q.Provenance = append(q.Provenance, model.Locator{File: "chat.json", PageStart: 9, PageEnd: 9, Conversation: "Launch"})

	b := Compile([]model.QuoteRecord{q}).Bundles[0]
	md := Render(b)

	assert.True(t, strings.HasPrefix(md, "# plan × release\n"))
	assert.Contains(t, md, "> Ship the beta on Friday.\n")
	assert.Contains(t, md, "[p.3-4] notes.pdf\n")
	assert.Contains(t, md, "Also seen: chat.json p.9 [Launch]\n")

	b.Heading = "Release timing"
	md = Render(b)
	assert.True(t, strings.HasPrefix(md, "# Release timing\n"))
	assert.Contains(t, md, "plan × release")
}

func TestRenderIndex(t *testing.T) {
	c := Compile([]model.QuoteRecord{
		quote(0, "We should build the sync engine first.", "plan", "sync"),
		quote(1, "I love how quiet mornings feel.", "feeling", "calm"),
	})
	idx := RenderIndex(c)
	assert.Contains(t, idx, "- **plan × sync** → [plan-sync.md](plan-sync.md) (1)")
	assert.Contains(t, idx, "- **feeling × calm** → [feeling-calm.md](feeling-calm.md) (1)")
}

func TestHeadingWriter(t *testing.T) {
	bundle := func() *Bundle {
		return Compile([]model.QuoteRecord{
			quote(0, "We should build the sync engine before anything else ships.", "plan", "sync"),
			quote(1, "Offline support matters more than speed.", "plan", "sync"),
		}).Bundles[0]
	}

	tests := []struct {
		name     string
		response string
		want     string
		rejected bool
	}{
		{"accepted", `{"heading": "Sync engine priorities"}`, "Sync engine priorities", false},
		{"fenced", "```json\n{\"heading\": \"## Offline first thinking\"}\n```", "Offline first thinking", false},
		{"whole quote", `{"heading": "Offline support matters more than speed."}`, "", true},
		{"shared wording", `{"heading": "Why we should build the sync engine before anything"}`, "", true},
		{"quotation marks", `{"heading": "The \"sync\" plan"}`, "", true},
		{"empty", `{"heading": "  "}`, "", true},
		{"not json", `Sync plans`, "", true},
		{"wrong shape", `{"title": "Sync plans"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bundle()
			fake := llmtest.Static(tt.response)
			w := NewHeadingWriter(fake, 200, nil)

			res, err := w.Write(context.Background(), b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Heading)
			assert.Equal(t, tt.want, res.Heading)
			assert.Equal(t, tt.rejected, res.Rejected != "")

			calls := fake.Calls()
			require.Len(t, calls, 1)
			assert.True(t, calls[0].JSON)
			assert.Contains(t, calls[0].Prompt, "Offline support matters more than speed.")
		})
	}
}

func TestHeadingWriter_ServiceError(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(llm.Request) (*llm.Response, error) {
		return nil, &model.ServiceError{Provider: "fake", Err: errors.New("boom")}
	}}
	b := Compile([]model.QuoteRecord{quote(0, "Some quote text here.", "x", "y")}).Bundles[0]

	_, err := NewHeadingWriter(fake, 200, nil).Write(context.Background(), b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrService))
	assert.Empty(t, b.Heading)
}
