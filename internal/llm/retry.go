package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/verbatim/internal/model"
	"github.com/ppiankov/verbatim/internal/worker"
)

// retrySleepFunc waits between attempts (replaceable in tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Caller paces calls through a per-provider limiter and retries transient
// service errors with exponential backoff (1s, 2s, 4s, ...)
type Caller struct {
	provider Provider
	limiter  *worker.Limiter
	attempts int
	logger   *zap.Logger
}

// NewCaller wraps provider. attempts is the total number of tries per call;
// limiter may be nil.
func NewCaller(provider Provider, limiter *worker.Limiter, attempts int, logger *zap.Logger) *Caller {
	if attempts <= 0 {
		attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{provider: provider, limiter: limiter, attempts: attempts, logger: logger}
}

func (c *Caller) Name() string {
	return c.provider.Name()
}

// IsAvailable asks the wrapped provider once, without retries
func (c *Caller) IsAvailable(ctx context.Context) bool {
	return c.provider.IsAvailable(ctx)
}

// Complete makes the call, retrying only errors marked retryable
func (c *Caller) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.provider.Name()); err != nil {
				return nil, err
			}
		}

		resp, err := c.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == c.attempts-1 {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		c.logger.Debug("retrying service call",
			zap.String("provider", c.provider.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := retrySleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	var se *model.ServiceError
	return errors.As(err, &se) && se.Retryable
}
