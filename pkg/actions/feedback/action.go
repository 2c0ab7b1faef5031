// Package feedback provides the feedback action: it records evaluator
// outcomes as structured feedback on a trace or span through a FeedbackSink.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/actions"
	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

const defaultTargetPath = "trace.id"

var (
	// ErrPayloadRequired is returned when no payload fields are configured.
	ErrPayloadRequired = errors.New("feedback payload is required")
	// ErrTargetUnresolved is returned when the target path resolves to nothing.
	ErrTargetUnresolved = errors.New("feedback target could not be resolved from input data")
)

// Action records feedback derived from evaluator results.
type Action struct {
	ID         string
	TargetPath string
	Payload    map[string]any

	sink protocol.FeedbackSink
}

func NewAction(config map[string]any, sink protocol.FeedbackSink) (*Action, error) {
	actionID, _ := config["id"].(string)

	payload, ok := config["payload"].(map[string]any)
	if !ok || len(payload) == 0 {
		return nil, ErrPayloadRequired
	}

	targetPath, _ := config["target_path"].(string)
	if targetPath == "" {
		targetPath = defaultTargetPath
	}

	return &Action{
		ID:         actionID,
		TargetPath: targetPath,
		Payload:    payload,
		sink:       sink,
	}, nil
}

// Execute resolves the target and records the rendered payload. String
// payload values support {dotted.path} templating; other values pass through.
func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "feedback_action", "action_id", a.ID)

	target, ok := fieldpath.Lookup(execCtx.InputData, a.TargetPath)
	if !ok {
		return nil, fmt.Errorf("%w: path %q", ErrTargetUnresolved, a.TargetPath)
	}

	targetID, ok := target.(string)
	if !ok || targetID == "" {
		return nil, fmt.Errorf("%w: path %q is not a string id", ErrTargetUnresolved, a.TargetPath)
	}

	data := actions.TemplateData(execCtx)
	rendered := make(map[string]any, len(a.Payload))

	for key, value := range a.Payload {
		if s, ok := value.(string); ok {
			rendered[key] = template.SubstitutePaths(s, data)
		} else {
			rendered[key] = value
		}
	}

	if err := a.sink.CreateFeedback(ctx, execCtx.WorkspaceID, targetID, rendered); err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}

	logger.InfoContext(ctx, "Feedback recorded", "target", targetID)

	return map[string]any{"target": targetID, "fields": len(rendered)}, nil
}
