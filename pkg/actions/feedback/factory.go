package feedback

import (
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func NewFactory(sink protocol.FeedbackSink) *Factory {
	return &Factory{sink: sink}
}

// Factory builds feedback actions bound to a feedback sink.
type Factory struct {
	sink protocol.FeedbackSink
}

func (*Factory) ID() models.ActionType {
	return models.ActionTypeFeedback
}

func (*Factory) Schema() map[string]any {
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"id":   map[string]any{"type": "string"},
			"name": map[string]any{"type": "string"},
			"target_path": map[string]any{
				"type":    "string",
				"default": "trace.id",
			},
			"payload": map[string]any{
				"type":          "object",
				"minProperties": 1,
				"description":   "Feedback fields. String values support {dotted.path} templating.",
			},
		},
		"required": []any{"payload"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sink)
}
