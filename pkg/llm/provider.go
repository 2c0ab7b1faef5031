// Package llm abstracts chat-completion providers for the LLM-judge evaluator.
package llm

import (
	"context"
)

// CompletionRequest is the universal input for all providers.
type CompletionRequest struct {
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// Usage reports token consumption of one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the universal output from all providers.
type CompletionResponse struct {
	Content   string  `json:"content"`
	Model     string  `json:"model"`
	Usage     Usage   `json:"usage"`
	LatencyMS int64   `json:"latency_ms"`
	Cost      float64 `json:"cost"`
}

// Provider is the completion backend consumed by evaluator runners.
type Provider interface {
	Name() string
	GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
