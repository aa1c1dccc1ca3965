package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/verbatim/internal/model"
)

// OpenAIProvider implements Provider over the Chat Completions API
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set OPENAI_API_KEY)")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(config, 120*time.Second)

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	return err == nil
}

// Complete runs one chat completion with the configured sampling settings
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName, maxTokens := p.config.resolve(req, openai.GPT4oMini)

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	seed := p.config.Seed
	chatReq := openai.ChatCompletionRequest{
		Model:               modelName,
		Messages:            messages,
		MaxCompletionTokens: maxTokens,
		Temperature:         p.config.Temperature,
		Seed:                &seed,
	}
	// reasoning models accept only the default temperature; the seed still applies
	if reasoningModel(modelName) {
		chatReq.Temperature = 0
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &model.ServiceError{Provider: p.Name(), Retryable: true, Err: errors.New("no choices in response")}
	}

	return &Response{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// reasoningModel reports whether a model only runs at its fixed sampling
// settings
func reasoningModel(name string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// rejectedLocally are request errors the client raises before sending;
// repeating the same request cannot succeed
var rejectedLocally = []error{
	openai.ErrReasoningModelMaxTokensDeprecated,
	openai.ErrReasoningModelLimitationsLogprobs,
	openai.ErrReasoningModelLimitationsOther,
	openai.ErrO1BetaLimitationsMessageTypes,
	openai.ErrO1BetaLimitationsTools,
	openai.ErrChatCompletionInvalidModel,
}

func (p *OpenAIProvider) classify(err error) error {
	for _, target := range rejectedLocally {
		if errors.Is(err, target) {
			return &model.ServiceError{Provider: p.Name(), Retryable: false, Err: err}
		}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(p.Name(), apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(p.Name(), reqErr.HTTPStatusCode, reqErr.Error())
	}
	return transportError(p.Name(), err)
}
