package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/verbatim/internal/model"
)

func TestOpenAIProvider_Complete_Success(t *testing.T) {
	var got openai.ChatCompletionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4.1",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    "assistant",
						Content: ` {"quotes": []} `,
					},
					FinishReason: "stop",
				},
			},
			Usage: openai.Usage{PromptTokens: 120, CompletionTokens: 8, TotalTokens: 128},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider(Config{
		APIKey:      "test-key",
		BaseURL:     server.URL,
		Model:       "gpt-4.1",
		Timeout:     5,
		Temperature: 0.1,
		Seed:        7,
		MaxTokens:   4000,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), Request{System: "sys", Prompt: "chunk text", JSON: true})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Text != `{"quotes": []}` {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 8 {
		t.Errorf("Unexpected usage: %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	if got.Model != "gpt-4.1" {
		t.Errorf("Expected model gpt-4.1, got %s", got.Model)
	}
	if got.Seed == nil || *got.Seed != 7 {
		t.Errorf("Expected seed 7, got %v", got.Seed)
	}
	if got.Temperature != 0.1 {
		t.Errorf("Expected temperature 0.1, got %v", got.Temperature)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Errorf("Expected json_object response format, got %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("Expected system + user messages, got %+v", got.Messages)
	}
}

func TestOpenAIProvider_Complete_DefaultConfigReasoningModel(t *testing.T) {
	var (
		hits int
		raw  map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-5-mini",
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: `{"quotes": []}`}},
			},
		})
	}))
	defer server.Close()

	cfg := ConfigFromModel(model.DefaultConfig().LLM)
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL

	provider, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	if _, err := provider.Complete(context.Background(), Request{System: "sys", Prompt: "chunk", JSON: true}); err != nil {
		t.Fatalf("Complete with default config failed: %v", err)
	}

	if hits != 1 {
		t.Fatalf("Expected one request to reach the server, got %d", hits)
	}
	if _, ok := raw["temperature"]; ok {
		t.Errorf("Expected temperature omitted for %s, got %v", cfg.Model, raw["temperature"])
	}
	if seed, ok := raw["seed"].(float64); !ok || seed != 7 {
		t.Errorf("Expected seed 7, got %v", raw["seed"])
	}
}

func TestOpenAIProvider_Complete_LocalRejectionNotRetried(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})

	// completions-only models are refused by the client before any request
	_, err := provider.Complete(context.Background(), Request{Model: openai.GPT3TextDavinci003, Prompt: "x"})
	var se *model.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("Expected service error, got %v", err)
	}
	if se.Retryable {
		t.Errorf("Expected non-retryable error, got %+v", se)
	}
	if hits != 0 {
		t.Errorf("Expected no request to reach the server, got %d", hits)
	}
}

func TestReasoningModel(t *testing.T) {
	for name, want := range map[string]bool{
		"gpt-5": true, "gpt-5-mini": true, "o3-mini": true, "o4-mini": true, "o1": true,
		"gpt-4.1": false, "gpt-4o-mini": false, "gpt-4-turbo": false,
	} {
		if got := reasoningModel(name); got != want {
			t.Errorf("reasoningModel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestOpenAIProvider_Complete_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limit", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "some_error"}}`))
			}))
			defer server.Close()

			provider, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
			if err != nil {
				t.Fatalf("Failed to create provider: %v", err)
			}

			_, err = provider.Complete(context.Background(), Request{Prompt: "x"})
			if !errors.Is(err, model.ErrService) {
				t.Fatalf("Expected service error, got %v", err)
			}
			var se *model.ServiceError
			if !errors.As(err, &se) || se.Retryable != tt.retryable {
				t.Errorf("Expected retryable=%v, got %+v", tt.retryable, se)
			}
		})
	}
}

func TestOpenAIProvider_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{})
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	if _, err := provider.Complete(context.Background(), Request{Prompt: "x"}); !errors.Is(err, model.ErrService) {
		t.Fatalf("Expected service error, got %v", err)
	}
}

func TestOpenAIProvider_Complete_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	provider, _ := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Complete(ctx, Request{Prompt: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestNewOpenAIProvider_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(Config{}); err == nil {
		t.Fatal("Expected error for missing API key")
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"openai", "openai", false},
		{"", "openai", false},
		{"Anthropic", "anthropic", false},
		{"claude", "anthropic", false},
		{"ollama", "ollama", false},
		{"gemini", "", true},
	}

	for _, tt := range tests {
		p, err := NewProvider(Config{Provider: tt.provider, APIKey: "k"})
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.provider, err)
			continue
		}
		if p.Name() != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.provider, tt.want, p.Name())
		}
	}
}
