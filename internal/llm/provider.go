// Package llm talks to the extraction and inference services. Every
// provider takes the same Request and answers with plain response text;
// callers own prompt construction and response parsing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ppiankov/verbatim/internal/model"
)

// Provider is a text completion backend
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one prompt and returns the response text
	Complete(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks that the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// Request is one completion call
type Request struct {
	// System is the instruction preamble
	System string

	// Prompt is the user message
	Prompt string

	// Model overrides the configured model when set
	Model string

	// MaxTokens limits the response length; 0 uses the configured value
	MaxTokens int

	// JSON asks for a single JSON object where the backend supports it
	JSON bool
}

// Response is the service answer
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Cached       bool
}

// Config holds provider configuration
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     int // seconds
	MaxTokens   int
	Temperature float32
	Seed        int
	HTTPProxy   string
	HTTPSProxy  string
}

// ConfigFromModel converts the application config section
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Seed:        c.Seed,
		HTTPProxy:   c.HTTPProxy,
		HTTPSProxy:  c.HTTPSProxy,
	}
}

// resolve fills request fields left empty from the provider config
func (c Config) resolve(req Request, fallbackModel string) (modelName string, maxTokens int) {
	modelName = req.Model
	if modelName == "" {
		modelName = c.Model
	}
	if modelName == "" {
		modelName = fallbackModel
	}

	maxTokens = req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 4000
	}
	return modelName, maxTokens
}

// statusError classifies a non-200 answer. Rate limits and server errors
// are worth retrying; anything else is not.
func statusError(provider string, status int, msg string) error {
	return &model.ServiceError{
		Provider:  provider,
		Retryable: status == http.StatusTooManyRequests || status >= 500,
		Err:       fmt.Errorf("API error (%d): %s", status, msg),
	}
}

// transportError wraps a failure to reach the service. Cancellation is
// returned as is so callers can stop.
func transportError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &model.ServiceError{Provider: provider, Retryable: true, Err: err}
}
