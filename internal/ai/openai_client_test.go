package ai

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/require"
)

type mockCompletions struct {
	resp     *openai.ChatCompletion
	err      error
	captured openai.ChatCompletionNewParams
	calls    int
}

func (m *mockCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	m.captured = params
	return m.resp, m.err
}

func (m *mockCompletions) NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	m.captured = params
	return nil
}

func newMockOpenAI(m *mockCompletions) *OpenAIClient {
	return &OpenAIClient{completions: m, apiKey: "test", baseURL: DefaultOpenAIBaseURL}
}

func TestOpenAIGenerate(t *testing.T) {
	m := &mockCompletions{resp: &openai.ChatCompletion{
		ID: "chatcmpl-1",
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Role: "assistant", Content: `{"action":"reply","response":"hi"}`},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}}
	c := newMockOpenAI(m)

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model: DefaultModel,
		Messages: []Message{
			{Role: "system", Content: "seed"},
			{Role: "user", Content: "q"},
			{Role: "assistant", Content: "a"},
		},
		Temperature:    Float64(0),
		MaxTokens:      256,
		ResponseFormat: ResponseFormatJSON,
	})
	require.NoError(t, err)
	require.Equal(t, `{"action":"reply","response":"hi"}`, resp.Content())
	require.Equal(t, 17, resp.Usage.TotalTokens)
	require.Equal(t, "chatcmpl-1", resp.ID)

	p := m.captured
	require.Equal(t, DefaultModel, string(p.Model))
	require.Len(t, p.Messages, 3)
	require.NotNil(t, p.Messages[0].OfSystem)
	require.NotNil(t, p.Messages[1].OfUser)
	require.NotNil(t, p.Messages[2].OfAssistant)
	require.True(t, p.Temperature.Valid())
	require.Equal(t, 0.0, p.Temperature.Value)
	require.Equal(t, int64(256), p.MaxCompletionTokens.Value)
	require.NotNil(t, p.ResponseFormat.OfJSONObject)
}

func TestOpenAIGenerateOmitsUnsetTemperature(t *testing.T) {
	m := &mockCompletions{resp: &openai.ChatCompletion{}}
	_, err := newMockOpenAI(m).Generate(context.Background(), GenerateRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	require.False(t, m.captured.Temperature.Valid())
	require.Nil(t, m.captured.ResponseFormat.OfJSONObject)
}

func TestOpenAIGenerateValidatesRequest(t *testing.T) {
	m := &mockCompletions{}
	c := newMockOpenAI(m)
	_, err := c.Generate(context.Background(), GenerateRequest{Messages: []Message{{Role: "user", Content: "q"}}})
	require.EqualError(t, err, "model cannot be empty")
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "m"})
	require.EqualError(t, err, "messages cannot be empty")
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "m", Messages: []Message{{Role: "tool", Content: "x"}}})
	require.ErrorContains(t, err, `unsupported message role "tool"`)

	c.apiKey = ""
	_, err = c.Generate(context.Background(), GenerateRequest{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}})
	require.ErrorContains(t, err, "OPENAI_API_KEY")
	require.Zero(t, m.calls)
}

func TestOpenAIMapsErrors(t *testing.T) {
	c := newMockOpenAI(&mockCompletions{})

	auth := c.mapError(&openai.Error{StatusCode: http.StatusUnauthorized, Message: "bad key"})
	var ae *AuthError
	require.ErrorAs(t, auth, &ae)

	limited := c.mapError(&openai.Error{StatusCode: http.StatusTooManyRequests})
	var re *RateLimitError
	require.ErrorAs(t, limited, &re)

	server := c.mapError(&openai.Error{StatusCode: http.StatusBadGateway})
	var se *ServerError
	require.ErrorAs(t, server, &se)

	down := c.mapError(errors.New("dial tcp: connection refused"))
	var ue *UnreachableError
	require.ErrorAs(t, down, &ue)
	require.Contains(t, down.Error(), "connection refused")

	require.ErrorIs(t, c.mapError(context.Canceled), context.Canceled)
}

func TestOpenAIStreamUnavailable(t *testing.T) {
	c := newMockOpenAI(&mockCompletions{})
	err := c.GenerateStream(context.Background(), GenerateRequest{Model: "m", Messages: []Message{{Role: "user", Content: "q"}}}, func(string) {})
	require.ErrorContains(t, err, "stream not available")
}

func TestRegistryBuildsDefaultProvider(t *testing.T) {
	rt, ok := GetRuntime(DefaultProvider, RuntimeConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1/v1"})
	require.True(t, ok)
	oc, ok := rt.(*OpenAIClient)
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:1/v1/", oc.baseURL)
	require.Contains(t, Providers(), ProviderOllama)
	require.Contains(t, Providers(), ProviderOpenRouter)
}
