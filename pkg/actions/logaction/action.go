// Package logaction provides the log action: it writes a rendered message to
// the structured log.
package logaction

import (
	"context"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/actions"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/template"
)

// Action logs a message with the execution's evaluator results.
type Action struct {
	ID      string
	Message string
	Level   string
}

func NewAction(config map[string]any) *Action {
	actionID, _ := config["id"].(string)
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &Action{ID: actionID, Message: message, Level: level}
}

func (a *Action) Execute(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "log_action", "action_id", a.ID)

	message := a.Message
	if message == "" {
		message = "Rule executed"
	}

	message = template.SubstitutePaths(message, actions.TemplateData(execCtx))

	attrs := []any{
		"execution_id", execCtx.ExecutionID,
		"rule_id", execCtx.RuleID,
		"results", execCtx.ResultValues(),
	}

	switch a.Level {
	case "debug":
		logger.DebugContext(ctx, message, attrs...)
	case "warn":
		logger.WarnContext(ctx, message, attrs...)
	case "error":
		logger.ErrorContext(ctx, message, attrs...)
	default:
		logger.InfoContext(ctx, message, attrs...)
	}

	return map[string]any{"message": message, "level": a.Level}, nil
}
