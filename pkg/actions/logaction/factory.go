package logaction

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeLog
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"name":    map[string]any{"type": "string"},
			"message": map[string]any{"type": "string"},
			"level": map[string]any{
				"type":    "string",
				"enum":    []any{"debug", "info", "warn", "error"},
				"default": "info",
			},
		},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewAction(config), nil
}
