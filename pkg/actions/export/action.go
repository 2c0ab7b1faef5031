// Package export provides the export action: it ships execution results to
// an external destination through an ExportSink.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

// ErrDestinationRequired is returned when no destination is configured.
var ErrDestinationRequired = errors.New("export destination is required")

// Action exports evaluator results, optionally restricted to selected input
// fields.
type Action struct {
	ID          string
	Destination string

	// IncludeInput selects dotted input paths to ship alongside results.
	IncludeInput map[string]string

	sink protocol.ExportSink
}

func NewAction(config map[string]any, sink protocol.ExportSink) (*Action, error) {
	actionID, _ := config["id"].(string)

	destination, _ := config["destination"].(string)
	if destination == "" {
		return nil, ErrDestinationRequired
	}

	includeInput := make(map[string]string)

	if mapping, ok := config["include_input"].(map[string]any); ok {
		for path, target := range mapping {
			if s, ok := target.(string); ok {
				includeInput[path] = s
			}
		}
	}

	return &Action{
		ID:           actionID,
		Destination:  destination,
		IncludeInput: includeInput,
		sink:         sink,
	}, nil
}

// Execute ships the evaluator results and selected input fields.
func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "export_action", "action_id", a.ID, "destination", a.Destination)

	payload := map[string]any{
		"execution_id": execCtx.ExecutionID,
		"rule_id":      execCtx.RuleID,
		"results":      execCtx.ResultValues(),
	}

	if len(a.IncludeInput) > 0 {
		payload["input"] = fieldpath.Flatten(execCtx.InputData, a.IncludeInput)
	}

	if err := a.sink.Export(ctx, execCtx.WorkspaceID, a.Destination, payload); err != nil {
		return nil, fmt.Errorf("failed to export results: %w", err)
	}

	logger.InfoContext(ctx, "Results exported")

	return map[string]any{"destination": a.Destination}, nil
}
