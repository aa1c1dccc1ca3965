// Package extract asks the extraction service for candidate quotes. Responses
// are schema-checked at the boundary; nothing untyped travels further.
package extract

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/model"
)

// Completer is the part of a provider the client needs
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Result is what one chunk yielded
type Result struct {
	Candidates   []model.CandidateQuote
	Malformed    bool // response unusable, treated as zero candidates
	Dropped      int  // individual items that failed validation
	InputTokens  int
	OutputTokens int
	Cached       bool
}

// Client extracts candidate quotes from chunks
type Client struct {
	llm       Completer
	maxTokens int
	logger    *zap.Logger
}

// NewClient creates an extraction client
func NewClient(c Completer, maxTokens int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{llm: c, maxTokens: maxTokens, logger: logger}
}

// Extract returns candidate quotes for one chunk. A malformed response is
// not an error: it yields an empty result flagged Malformed. Errors are
// service failures left after retries, or cancellation.
func (c *Client) Extract(ctx context.Context, chunk model.Chunk) (*Result, error) {
	resp, err := c.llm.Complete(ctx, Request(chunk, c.maxTokens))
	if err != nil {
		return nil, err
	}

	res := &Result{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Cached:       resp.Cached,
	}

	p := parseResponse(resp.Text)
	if p.malformed != "" {
		c.logger.Warn("malformed extraction response",
			zap.String("locator", chunk.Locator.String()),
			zap.String("reason", p.malformed))
		res.Malformed = true
		return res, nil
	}
	if p.dropped > 0 {
		c.logger.Debug("dropped invalid quote items",
			zap.String("locator", chunk.Locator.String()),
			zap.Int("dropped", p.dropped))
	}

	res.Dropped = p.dropped
	for _, q := range p.quotes {
		res.Candidates = append(res.Candidates, candidate(q, chunk.Locator))
	}
	return res, nil
}

// Request builds the service request for a chunk
func Request(chunk model.Chunk, maxTokens int) llm.Request {
	return llm.Request{
		System:    instructions(chunk.Locator.PageStart, chunk.Locator.PageEnd),
		Prompt:    chunk.Text,
		MaxTokens: maxTokens,
		JSON:      true,
	}
}

// candidate converts a validated item. Pages outside the chunk fall back to
// the chunk's own bounds.
func candidate(q rawQuote, loc model.Locator) model.CandidateQuote {
	start, end := loc.PageStart, loc.PageEnd
	if q.PageStart != nil && loc.Contains(*q.PageStart) {
		start = *q.PageStart
	}
	if q.PageEnd != nil && loc.Contains(*q.PageEnd) {
		end = *q.PageEnd
	}
	if start > end {
		start, end = end, start
	}

	var tags []string
	for _, t := range q.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	return model.CandidateQuote{
		Quote:     q.Quote,
		Category:  strings.TrimSpace(q.Category),
		Tags:      tags,
		PageStart: start,
		PageEnd:   end,
	}
}
