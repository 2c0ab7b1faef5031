package tag

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory(sink protocol.TagSink) *Factory {
	return &Factory{sink: sink}
}

// Factory builds tag actions bound to a tag sink.
type Factory struct {
	sink protocol.TagSink
}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeTag
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string"},
			"name": map[string]any{"type": "string"},
			"target_path": map[string]any{
				"type":        "string",
				"description": "Dotted path of the target id in the input data.",
				"default":     "trace.id",
			},
			"tags": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
		},
		"required": []any{"tags"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sink)
}
