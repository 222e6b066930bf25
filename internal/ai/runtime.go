package ai

import "context"

// Runtime is implemented by every chat backend: the OpenAI SDK client, the
// OpenRouter HTTP client and the local Ollama client.
type Runtime interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Provider identifiers used across the CLI for selection.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderMeta       = "meta"
	ProviderLlama      = "llama"
	ProviderOllama     = "ollama"
	ProviderLocal      = "local"

	// DefaultProvider is used when neither flag nor config names one.
	DefaultProvider = ProviderOpenAI
	// DefaultModel is the model the assistant was tuned against.
	DefaultModel = "openai/gpt-oss-20b"
)

// StreamRuntime is an optional extension that supports streaming output.
// Implementors should invoke onDelta with each partial content chunk.
type StreamRuntime interface {
	GenerateStream(ctx context.Context, req GenerateRequest, onDelta func(string)) error
}
