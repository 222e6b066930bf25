package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1/"

// chatCompletions is the subset of the SDK's completions service we call.
type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// through the official SDK. The SDK owns retries and backoff.
type OpenAIClient struct {
	completions chatCompletions
	apiKey      string
	baseURL     string
}

// NewOpenAIClient builds an SDK-backed runtime. An empty baseURL targets OpenAI.
func NewOpenAIClient(apiKey, baseURL string, httpTimeout time.Duration, retryMax int) *OpenAIClient {
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	if retryMax < 0 {
		retryMax = 0
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: httpTimeout}),
		option.WithMaxRetries(retryMax),
	)
	return &OpenAIClient{completions: &client.Chat.Completions, apiKey: apiKey, baseURL: baseURL}
}

// Generate issues a non-streaming chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return nil, c.mapError(err)
	}
	out := &GenerateResponse{
		ID: completion.ID,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, ch := range completion.Choices {
		out.Choices = append(out.Choices, Choice{Message: Message{Role: "assistant", Content: ch.Message.Content}})
	}
	return out, nil
}

// GenerateStream forwards content deltas to onDelta as they arrive.
func (c *OpenAIClient) GenerateStream(ctx context.Context, req GenerateRequest, onDelta func(string)) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}
	stream := c.completions.NewStreaming(ctx, params)
	if stream == nil {
		return errors.New("openai stream not available")
	}
	defer stream.Close()
	for stream.Next() {
		for _, ch := range stream.Current().Choices {
			if ch.Delta.Content != "" {
				onDelta(ch.Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return c.mapError(err)
	}
	return nil
}

func (c *OpenAIClient) buildParams(req GenerateRequest) (openai.ChatCompletionNewParams, error) {
	if c.apiKey == "" {
		return openai.ChatCompletionNewParams{}, errors.New("OPENAI_API_KEY is missing")
	}
	if req.Model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("model cannot be empty")
	}
	if len(req.Messages) == 0 {
		return openai.ChatCompletionNewParams{}, errors.New("messages cannot be empty")
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "user":
			msgs = append(msgs, openai.UserMessage(m.Content))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.ResponseFormat == ResponseFormatJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

// mapError turns SDK errors into the typed errors shared by every runtime.
func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &UnreachableError{Host: c.baseURL, Err: err}
	}
	base := &APIError{StatusCode: apiErr.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	if apiErr.Response != nil {
		base.RequestID = extractRequestID(apiErr.Response)
		return classifyAPIError(base, apiErr.Response)
	}
	return classifyAPIError(base, &http.Response{StatusCode: apiErr.StatusCode, Header: http.Header{}})
}
