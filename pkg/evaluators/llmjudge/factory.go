package llmjudge

import (
	"github.com/tracewatch/sentinel/pkg/llm"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory(provider llm.Provider) *Factory {
	return &Factory{provider: provider}
}

// Factory builds llm_judge evaluators bound to a completion provider.
type Factory struct {
	provider llm.Provider
}

func (*Factory) ID() models.EvaluatorType {
	return models.EvaluatorTypeLLMJudge
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":              map[string]any{"type": "string"},
			"name":            map[string]any{"type": "string"},
			"prompt_template": map[string]any{"type": "string", "minLength": 1},
			"system_prompt":   map[string]any{"type": "string"},
			"model":           map[string]any{"type": "string"},
			"temperature":     map[string]any{"type": "number", "minimum": 0, "maximum": 2},
			"max_tokens":      map[string]any{"type": "integer", "minimum": 1},
			"response_format": map[string]any{
				"type": "string",
				"enum": []any{"json", "score", "classification", "text"},
			},
			"score_range": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min": map[string]any{"type": "number"},
					"max": map[string]any{"type": "number"},
				},
			},
			"labels": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"consensus_count":       map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
			"confidence_threshold":  map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"fallback_evaluator_id": map[string]any{"type": "string"},
		},
		"required": []any{"prompt_template"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Evaluator, error) {
	return NewJudge(config, f.provider)
}
