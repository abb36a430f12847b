// Package llm defines the port for the external language-model provider.
// The core treats the provider as a black box returning raw text.
package llm

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ChatOptions tune a single chat call.
type ChatOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Provider is the port for chat and embedding calls. Implementations own
// retries; the pipeline calls once and degrades gracefully on error.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) bool
}
