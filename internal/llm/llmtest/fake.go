// Package llmtest provides a scripted llm.Provider for tests
package llmtest

import (
	"context"
	"sync"

	"github.com/ppiankov/verbatim/internal/llm"
)

// Fake answers every request with Respond. Calls are recorded.
type Fake struct {
	Respond func(req llm.Request) (*llm.Response, error)
	// Unreachable makes IsAvailable report false
	Unreachable bool

	mu    sync.Mutex
	calls []llm.Request
}

// Static returns a fake that always answers with text
func Static(text string) *Fake {
	return &Fake{Respond: func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, Model: "fake"}, nil
	}}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) IsAvailable(context.Context) bool { return !f.Unreachable }

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.Respond(req)
}

// Calls returns a copy of the recorded requests
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}
