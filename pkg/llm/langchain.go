package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Backend selects which langchaingo client a provider wraps.
type Backend string

const (
	BackendOpenAI    Backend = "openai"
	BackendAnthropic Backend = "anthropic"
	BackendOllama    Backend = "ollama"
)

// Config configures a langchaingo-backed provider.
type Config struct {
	Backend Backend `json:"backend"`
	Model   string  `json:"model"`
	APIKey  string  `json:"api_key,omitempty"`
	// ServerURL is the ollama host, ignored by hosted backends.
	ServerURL string `json:"server_url,omitempty"`

	// Per-1k-token prices for cost reporting. Zero disables cost tracking.
	PromptPricePer1K     float64 `json:"prompt_price_per_1k,omitempty"`
	CompletionPricePer1K float64 `json:"completion_price_per_1k,omitempty"`
}

// LangchainProvider adapts a langchaingo model to the Provider interface.
type LangchainProvider struct {
	model  llms.Model
	config Config
}

// NewLangchainProvider builds a provider for the configured backend.
func NewLangchainProvider(config Config) (*LangchainProvider, error) {
	var (
		model llms.Model
		err   error
	)

	switch config.Backend {
	case BackendOpenAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires an API key")
		}

		model, err = openai.New(openai.WithToken(config.APIKey), openai.WithModel(config.Model))
	case BackendAnthropic:
		if config.APIKey == "" {
			return nil, fmt.Errorf("anthropic backend requires an API key")
		}

		model, err = anthropic.New(anthropic.WithToken(config.APIKey), anthropic.WithModel(config.Model))
	case BackendOllama:
		opts := []ollama.Option{ollama.WithModel(config.Model)}
		if config.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(config.ServerURL))
		}

		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm backend: %s", config.Backend)
	}

	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", config.Backend, err)
	}

	return &LangchainProvider{model: model, config: config}, nil
}

func (p *LangchainProvider) Name() string {
	return string(p.config.Backend)
}

// GenerateCompletion sends a system+user prompt pair and maps the response
// into the universal completion shape.
func (p *LangchainProvider) GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var messages []llms.MessageContent

	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}

	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.UserPrompt))

	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	start := time.Now()

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	choice := resp.Choices[0]
	usage := extractUsage(choice.GenerationInfo)

	return &CompletionResponse{
		Content:   choice.Content,
		Model:     model,
		Usage:     usage,
		LatencyMS: time.Since(start).Milliseconds(),
		Cost:      p.cost(usage),
	}, nil
}

func (p *LangchainProvider) cost(usage Usage) float64 {
	return float64(usage.PromptTokens)/1000*p.config.PromptPricePer1K +
		float64(usage.CompletionTokens)/1000*p.config.CompletionPricePer1K
}

// extractUsage pulls token counts out of the backend-specific generation
// info. Keys differ per backend; missing keys report zero.
func extractUsage(info map[string]any) Usage {
	return Usage{
		PromptTokens:     intFrom(info, "PromptTokens", "prompt_tokens", "input_tokens"),
		CompletionTokens: intFrom(info, "CompletionTokens", "completion_tokens", "output_tokens"),
		TotalTokens:      intFrom(info, "TotalTokens", "total_tokens"),
	}
}

func intFrom(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}

	return 0
}
