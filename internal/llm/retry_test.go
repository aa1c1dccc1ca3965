package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/verbatim/internal/model"
)

type scriptedProvider struct {
	errs  []error
	calls int
	down  bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) IsAvailable(context.Context) bool { return !p.down }

func (p *scriptedProvider) Complete(context.Context, Request) (*Response, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	return &Response{Text: "ok"}, nil
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	orig := retrySleepFunc
	retrySleepFunc = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { retrySleepFunc = orig })
	return &waits
}

func transient() error {
	return &model.ServiceError{Provider: "scripted", Retryable: true, Err: errors.New("503")}
}

func TestCaller_TransientThenSuccess(t *testing.T) {
	waits := noSleep(t)
	p := &scriptedProvider{errs: []error{transient(), transient()}}

	resp, err := NewCaller(p, nil, 3, nil).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Text != "ok" || p.calls != 3 {
		t.Errorf("expected 3 calls ending in ok, got %d calls", p.calls)
	}
	if len(*waits) != 2 || (*waits)[0] != time.Second || (*waits)[1] != 2*time.Second {
		t.Errorf("expected 1s, 2s backoff, got %v", *waits)
	}
}

func TestCaller_BudgetExhausted(t *testing.T) {
	noSleep(t)
	p := &scriptedProvider{errs: []error{transient(), transient(), transient(), transient()}}

	_, err := NewCaller(p, nil, 3, nil).Complete(context.Background(), Request{})
	if !errors.Is(err, model.ErrService) {
		t.Fatalf("expected service error, got %v", err)
	}
	if p.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", p.calls)
	}
}

func TestCaller_PermanentFailureNotRetried(t *testing.T) {
	waits := noSleep(t)
	p := &scriptedProvider{errs: []error{&model.ServiceError{Provider: "scripted", Err: errors.New("400")}}}

	_, err := NewCaller(p, nil, 3, nil).Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.calls != 1 || len(*waits) != 0 {
		t.Errorf("expected a single attempt, got %d calls and %d waits", p.calls, len(*waits))
	}
}

func TestCaller_CancelledDuringBackoff(t *testing.T) {
	p := &scriptedProvider{errs: []error{transient(), transient()}}

	ctx, cancel := context.WithCancel(context.Background())
	orig := retrySleepFunc
	retrySleepFunc = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	t.Cleanup(func() { retrySleepFunc = orig })

	_, err := NewCaller(p, nil, 3, nil).Complete(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCaller_IsAvailableDelegates(t *testing.T) {
	up := NewCaller(&scriptedProvider{}, nil, 3, nil)
	if !up.IsAvailable(context.Background()) {
		t.Error("expected available provider to be reported available")
	}
	down := NewCaller(&scriptedProvider{down: true}, nil, 3, nil)
	if down.IsAvailable(context.Background()) {
		t.Error("expected unreachable provider to be reported unavailable")
	}
}
