// Package protocol defines the contracts between the execution engine and
// its pluggable evaluator and action runners.
package protocol

import (
	"context"
	"log/slog"

	"github.com/tracewatch/sentinel/pkg/models"
)

// ExecutionContext is the read-only view of a running execution handed to
// evaluator and action runners.
type ExecutionContext struct {
	ExecutionID string
	RuleID      string
	RuleName    string
	WorkspaceID string
	TriggeredBy string
	InputData   map[string]any

	// EvaluatorResults holds the results of evaluators that already
	// completed, keyed by evaluator id. Actions and dependent evaluators
	// read their upstream outcomes from here.
	EvaluatorResults map[string]models.EvaluatorResult

	DryRun bool
}

// ResultValues flattens completed evaluator values for template rendering,
// keyed by evaluator id.
func (c *ExecutionContext) ResultValues() map[string]any {
	out := make(map[string]any, len(c.EvaluatorResults))
	for id, result := range c.EvaluatorResults {
		out[id] = result.Value
	}

	return out
}

// Evaluator computes a typed value with optional confidence from input data.
// Run must respect ctx cancellation and its configured timeout; timeouts are
// reported as a failed result whose error mentions "timeout".
type Evaluator interface {
	Run(ctx context.Context, execCtx ExecutionContext, logger *slog.Logger) (*models.EvaluatorResult, error)
}

// EvaluatorFactory creates evaluator instances and describes their
// configuration schema.
type EvaluatorFactory interface {
	// ID returns the evaluator type this factory builds.
	ID() models.EvaluatorType

	// Schema returns the JSON schema that evaluator configurations must
	// satisfy. Validated by the registry before Create is called.
	Schema() map[string]any

	Create(config map[string]any) (Evaluator, error)
}

// Action applies a side effect conditioned on evaluator outcomes.
type Action interface {
	Execute(ctx context.Context, execCtx ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory creates action instances and describes their configuration
// schema.
type ActionFactory interface {
	ID() models.ActionType
	Schema() map[string]any
	Create(config map[string]any) (Action, error)
}
