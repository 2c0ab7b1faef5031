package notification

import (
	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory(publisher eventbus.EventPublisher) *Factory {
	return &Factory{publisher: publisher}
}

// Factory builds notification actions bound to an event publisher.
type Factory struct {
	publisher eventbus.EventPublisher
}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeNotification
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"name":    map[string]any{"type": "string"},
			"channel": map[string]any{"type": "string"},
			"recipients": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"subject": map[string]any{"type": "string"},
			"message": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message template. Supports {dotted.path} templating against input and results.",
			},
		},
		"required": []any{"message"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.publisher)
}
