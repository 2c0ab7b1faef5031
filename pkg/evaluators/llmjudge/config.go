// Package llmjudge implements the LLM-judge evaluator: prompt templating,
// format-aware response parsing and multi-sample consensus.
package llmjudge

import (
	"errors"
	"fmt"

	"github.com/tracewatch/sentinel/pkg/protocol"
)

// ResponseFormat declares how the model's answer is parsed.
type ResponseFormat string

const (
	FormatJSON           ResponseFormat = "json"
	FormatScore          ResponseFormat = "score"
	FormatClassification ResponseFormat = "classification"
	FormatText           ResponseFormat = "text"
)

var (
	ErrConfigInvalid = errors.New("invalid llm_judge configuration")
)

// ScoreRange declares the numeric bounds for score-format responses.
type ScoreRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Config is the llm_judge evaluator configuration.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// PromptTemplate supports {dotted.path} substitution against input data.
	PromptTemplate string `json:"prompt_template"`
	SystemPrompt   string `json:"system_prompt,omitempty"`

	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	ResponseFormat ResponseFormat `json:"response_format"`
	ScoreRange     *ScoreRange    `json:"score_range,omitempty"`
	Labels         []string       `json:"labels,omitempty"`

	// ConsensusCount above 1 runs that many independent samples and
	// aggregates them.
	ConsensusCount int `json:"consensus_count,omitempty"`

	// ConfidenceThreshold below which the result gets a low-confidence
	// warning and, when set, the fallback evaluator id is surfaced.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	FallbackEvaluatorID string  `json:"fallback_evaluator_id,omitempty"`
}

func parseConfig(config map[string]any) (*Config, error) {
	var cfg Config

	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if cfg.PromptTemplate == "" {
		return nil, fmt.Errorf("%w: prompt_template is required", ErrConfigInvalid)
	}

	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = FormatText
	}

	switch cfg.ResponseFormat {
	case FormatJSON, FormatScore, FormatClassification, FormatText:
	default:
		return nil, fmt.Errorf("%w: unknown response_format %q", ErrConfigInvalid, cfg.ResponseFormat)
	}

	if cfg.ResponseFormat == FormatScore && cfg.ScoreRange == nil {
		cfg.ScoreRange = &ScoreRange{Min: 0, Max: 1}
	}

	if cfg.ResponseFormat == FormatClassification && len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("%w: classification format requires labels", ErrConfigInvalid)
	}

	return &cfg, nil
}
