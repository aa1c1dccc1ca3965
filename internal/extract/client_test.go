package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/llm/llmtest"
	"github.com/ppiankov/verbatim/internal/model"
)

func testChunk() model.Chunk {
	return model.Chunk{
		Seq:     3,
		Locator: model.Locator{File: "notes.pdf", PageStart: 4, PageEnd: 6},
		Text:    "\n\n[p.4]\nThe cat sat on the mat.",
	}
}

func TestExtract_ValidResponse(t *testing.T) {
	fake := llmtest.Static(`{"page_start": 4, "page_end": 6, "quotes": [
		{"page_start": 2, "page_end": 9, "category": " animals ", "tags": ["cats", " ", "mats"], "quote": "The cat sat on the mat."},
		{"category": "misc", "quote": "no pages given"}
	]}`)

	res, err := NewClient(fake, 4000, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	require.False(t, res.Malformed)
	require.Len(t, res.Candidates, 2)

	first := res.Candidates[0]
	assert.Equal(t, "The cat sat on the mat.", first.Quote)
	assert.Equal(t, "animals", first.Category)
	assert.Equal(t, []string{"cats", "mats"}, first.Tags)
	assert.Equal(t, 4, first.PageStart, "outside the chunk falls back to its start")
	assert.Equal(t, 6, first.PageEnd, "outside the chunk falls back to its end")

	second := res.Candidates[1]
	assert.Equal(t, 4, second.PageStart)
	assert.Equal(t, 6, second.PageEnd)
}

func TestExtract_PagesInsideChunkKept(t *testing.T) {
	fake := llmtest.Static(`{"quotes": [{"page_start": 5, "page_end": 5, "category": "c", "quote": "The cat sat on the mat."}]}`)

	res, err := NewClient(fake, 4000, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 5, res.Candidates[0].PageStart)
	assert.Equal(t, 5, res.Candidates[0].PageEnd)
}

func TestExtract_NullOptionalFields(t *testing.T) {
	fake := llmtest.Static(`{"page_start": null, "page_end": null, "quotes": [
		{"page_start": null, "page_end": null, "category": "animals", "tags": ["cats"], "quote": "The cat sat on the mat."},
		{"category": null, "tags": null, "quote": "no category given"}
	]}`)

	res, err := NewClient(fake, 4000, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	assert.False(t, res.Malformed)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "The cat sat on the mat.", res.Candidates[0].Quote)
	assert.Equal(t, 4, res.Candidates[0].PageStart)
	assert.Equal(t, 6, res.Candidates[0].PageEnd)
	assert.Empty(t, res.Candidates[1].Category)
	assert.Empty(t, res.Candidates[1].Tags)
}

func TestExtract_RequestIsDeterministicJSON(t *testing.T) {
	fake := llmtest.Static(`{"quotes": []}`)

	_, err := NewClient(fake, 1234, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.Equal(t, 1234, calls[0].MaxTokens)
	assert.Contains(t, calls[0].System, "Chunk pages: 4-6.")
	assert.Equal(t, testChunk().Text, calls[0].Prompt)
}

func TestExtract_MalformedIsEmptyNotError(t *testing.T) {
	tests := map[string]string{
		"prose":         "Sorry, I can't help with that.",
		"wrong shape":   `{"items": []}`,
		"quotes object": `{"quotes": {"quote": "x"}}`,
		"empty":         "",
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			res, err := NewClient(llmtest.Static(text), 0, nil).Extract(context.Background(), testChunk())
			require.NoError(t, err)
			assert.True(t, res.Malformed)
			assert.Empty(t, res.Candidates)
		})
	}
}

func TestExtract_LineFallback(t *testing.T) {
	text := `Here are the quotes:
{"category": "a", "tags": ["x"], "quote": "first line quote"}
not json
{"category": "b", "quote": "second line quote"}
{"category": "c"}`

	res, err := NewClient(llmtest.Static(text), 0, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	assert.False(t, res.Malformed)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "first line quote", res.Candidates[0].Quote)
	assert.Equal(t, "second line quote", res.Candidates[1].Quote)
	assert.Equal(t, 1, res.Dropped)
}

func TestExtract_InvalidItemsDropped(t *testing.T) {
	text := `{"quotes": [{"quote": 42}, {"quote": "ok quote here", "tags": "not-a-list"}, {"quote": "kept quote", "tags": ["t"]}]}`

	res, err := NewClient(llmtest.Static(text), 0, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "kept quote", res.Candidates[0].Quote)
	assert.Equal(t, 2, res.Dropped)
}

func TestExtract_CodeFences(t *testing.T) {
	text := "```json\n{\"quotes\": [{\"quote\": \"fenced quote\"}]}\n```"

	res, err := NewClient(llmtest.Static(text), 0, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "fenced quote", res.Candidates[0].Quote)
}

func TestExtract_ServiceErrorPropagates(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(llm.Request) (*llm.Response, error) {
		return nil, &model.ServiceError{Provider: "fake", Err: errors.New("boom")}
	}}

	_, err := NewClient(fake, 0, nil).Extract(context.Background(), testChunk())
	assert.True(t, errors.Is(err, model.ErrService))
}

func TestExtract_UsagePassedThrough(t *testing.T) {
	fake := &llmtest.Fake{Respond: func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: `{"quotes": []}`, InputTokens: 900, OutputTokens: 12, Cached: true}, nil
	}}

	res, err := NewClient(fake, 0, nil).Extract(context.Background(), testChunk())
	require.NoError(t, err)
	assert.Equal(t, 900, res.InputTokens)
	assert.Equal(t, 12, res.OutputTokens)
	assert.True(t, res.Cached)
}
