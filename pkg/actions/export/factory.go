package export

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory(sink protocol.ExportSink) *Factory {
	return &Factory{sink: sink}
}

// Factory builds export actions bound to an export sink.
type Factory struct {
	sink protocol.ExportSink
}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeExport
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": "string"},
			"name":        map[string]any{"type": "string"},
			"destination": map[string]any{"type": "string", "minLength": 1},
			"include_input": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []any{"destination"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sink)
}
