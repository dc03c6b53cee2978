// Package llm provides the streaming completion providers backing the
// reference widget server.
package llm

import (
	"context"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// ChatMessage represents a chat message for the provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a streaming completion request.
type CompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
}

// CompletionResponse summarizes a finished streaming completion.
type CompletionResponse struct {
	Content    string
	Model      string
	StopReason string
	LatencyMs  int64
}

// Client is the interface for streaming completion providers.
type Client interface {
	// CompleteStream streams a completion, invoking callback per token.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderEcho      Provider = "echo"
)

// NewClient creates a client for the given provider. The echo provider
// needs no credentials and is the keyless development fallback.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewEchoClient(), nil
	}
}
