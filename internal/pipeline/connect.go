package pipeline

import (
	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/cache"
	"github.com/ppiankov/verbatim/internal/llm"
	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/worker"
)

// Connect builds the service client for cfg: the provider, an optional
// response cache, request pacing and retries
func Connect(cfg *model.Config, logger *zap.Logger) (*llm.Caller, error) {
	pcfg := llm.ConfigFromModel(cfg.LLM)
	provider, err := llm.NewProvider(pcfg)
	if err != nil {
		return nil, err
	}

	if c := cache.FromConfig(cfg.Cache); c != nil {
		provider = llm.NewCachedProvider(provider, c, pcfg)
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	return llm.NewCaller(provider, limiter, cfg.LLM.MaxRetries, logger), nil
}
