package scriptmetric

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/sandbox"
)

func NewFactory(runner *sandbox.Runner) *Factory {
	return &Factory{runner: runner}
}

// Factory builds script_metric evaluators sharing one sandbox runner.
type Factory struct {
	runner *sandbox.Runner
}

func (*Factory) ID() models.EvaluatorType {
	return models.EvaluatorTypeScriptMetric
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":            map[string]any{"type": "string"},
			"name":          map[string]any{"type": "string"},
			"script_path":   map[string]any{"type": "string", "minLength": 1},
			"function_name": map[string]any{"type": "string", "minLength": 1},
			"interpreter":   map[string]any{"type": "string"},
			"input_mapping": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"output_mapping": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"restricted_imports": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"timeout_ms":      map[string]any{"type": "integer", "minimum": 1},
			"memory_limit_mb": map[string]any{"type": "integer", "minimum": 1},
			"sandboxed":       map[string]any{"type": "boolean"},
		},
		"required": []any{"script_path", "function_name"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Evaluator, error) {
	return NewMetric(config, f.runner)
}
