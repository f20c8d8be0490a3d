package rlm

import "context"

// Provider abstracts the completion service.
type Provider interface {
	// Chat sends the ordered transcript and returns the complete response text.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "groq").
	Name() string
}
