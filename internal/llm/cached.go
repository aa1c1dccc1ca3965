package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ppiankov/verbatim/internal/cache"
)

// CachedProvider memoizes responses by everything that determines them:
// provider, model, sampling settings and prompt text
type CachedProvider struct {
	next   Provider
	cache  cache.Cache
	config Config
}

// NewCachedProvider wraps next with a response cache
func NewCachedProvider(next Provider, c cache.Cache, config Config) *CachedProvider {
	return &CachedProvider{next: next, cache: c, config: config}
}

func (p *CachedProvider) Name() string {
	return p.next.Name()
}

func (p *CachedProvider) IsAvailable(ctx context.Context) bool {
	return p.next.IsAvailable(ctx)
}

func (p *CachedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName, maxTokens := p.config.resolve(req, "")
	key := cache.Key(
		p.next.Name(),
		modelName,
		strconv.Itoa(maxTokens),
		strconv.FormatFloat(float64(p.config.Temperature), 'f', -1, 32),
		strconv.Itoa(p.config.Seed),
		strconv.FormatBool(req.JSON),
		req.System,
		req.Prompt,
	)

	if data, ok := p.cache.Get(key); ok {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			resp.Cached = true
			return &resp, nil
		}
	}

	resp, err := p.next.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal cached response: %w", err)
	}
	// a failed cache write costs a repeat call later, nothing more
	_ = p.cache.Set(key, data, 0)
	return resp, nil
}
