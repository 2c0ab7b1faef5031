package webhook

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeWebhook
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string"},
			"name": map[string]any{"type": "string"},
			"url": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Webhook endpoint. Supports {dotted.path} templating against input and results.",
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []any{"GET", "POST", "PUT", "PATCH", "DELETE"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Payload template. Supports {dotted.path} templating.",
			},
			"timeout_ms": map[string]any{"type": "integer", "minimum": 1},
			"retry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"delay_ms": map[string]any{"type": "integer", "minimum": 0, "maximum": 30000},
				},
			},
		},
		"required": []any{"url"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}
