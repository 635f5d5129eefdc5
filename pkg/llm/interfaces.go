// Package llm provides the OpenAI-compatible completion-service boundary.
package llm

import (
	"context"
)

// LLMClient defines the interface for completion-service calls.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a chat completion response. When schema is
	// non-nil it is sent as a structured-output contract; the service may
	// still violate it, so callers validate the parsed output separately.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, schema *Schema) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// GenerateResponseResult holds completion content plus usage stats.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Ensure Client implements LLMClient at compile time.
var _ LLMClient = (*Client)(nil)
