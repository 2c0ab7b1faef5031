package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracewatch/sentinel/pkg/engine"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/permissions"
	"github.com/tracewatch/sentinel/pkg/persistence"
)

// ExecutionEngine is the slice of the engine the execution service drives.
// Satisfied by *engine.Engine.
type ExecutionEngine interface {
	Execute(ctx context.Context, rule *models.Rule, req engine.Request) (*models.Execution, error)
	Cancel(executionID string) bool
}

// Executions implements execution operations with permission checks.
type Executions struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	checker     *permissions.Checker
	engine      ExecutionEngine
}

func NewExecutions(
	logger *slog.Logger,
	persist persistence.Persistence,
	checker *permissions.Checker,
	eng ExecutionEngine,
) *Executions {
	return &Executions{
		logger:      logger.With("component", "executions_service"),
		persistence: persist,
		checker:     checker,
		engine:      eng,
	}
}

// ExecuteRequest asks for one manual rule run.
type ExecuteRequest struct {
	InputData map[string]any

	// DryRun executes synchronously with placeholder component results and
	// persists nothing.
	DryRun bool

	// Async dispatches the run in the background and returns a pending
	// execution snapshot carrying the assigned id. Ignored for dry runs.
	Async bool
}

// Execute runs the rule on the actor's behalf. Dry runs are always
// synchronous; real runs either block until finished or, when Async is set,
// return immediately with the execution id to poll.
func (s *Executions) Execute(ctx context.Context, actor permissions.Actor, ruleID string, req ExecuteRequest) (*models.Execution, error) {
	rule, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !s.checker.Allowed(actor, rule, permissions.OperationExecute) {
		return nil, ErrPermissionDenied
	}

	if !req.DryRun && rule.Status != models.RuleStatusActive {
		return nil, ErrRuleNotActive
	}

	engineReq := engine.Request{
		Trigger: models.ExecutionTrigger{
			Type:      models.TriggerTypeManual,
			Source:    "api",
			Timestamp: time.Now().UTC(),
		},
		InputData:   req.InputData,
		TriggeredBy: actor.ID,
		DryRun:      req.DryRun,
	}

	if req.DryRun || !req.Async {
		return s.engine.Execute(ctx, rule, engineReq)
	}

	engineReq.ExecutionID = uuid.New().String()

	go func() {
		if _, err := s.engine.Execute(context.Background(), rule, engineReq); err != nil {
			s.logger.Error("Async execution failed",
				"rule_id", rule.ID, "execution_id", engineReq.ExecutionID, "error", err)
		}
	}()

	return &models.Execution{
		ID:          engineReq.ExecutionID,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		WorkspaceID: rule.WorkspaceID,
		Trigger:     engineReq.Trigger,
		Status:      models.ExecutionStatusPending,
		StartedAt:   time.Now().UTC(),
		Metadata:    models.ExecutionMetadata{TriggeredBy: actor.ID},
	}, nil
}

// Get fetches an execution the actor may read.
func (s *Executions) Get(ctx context.Context, actor permissions.Actor, executionID string) (*models.Execution, error) {
	execution, err := s.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if err := s.checkRuleAccess(ctx, actor, execution.RuleID, permissions.OperationRead); err != nil {
		return nil, err
	}

	return execution, nil
}

// List returns the newest executions of a rule the actor may read.
func (s *Executions) List(ctx context.Context, actor permissions.Actor, ruleID string, limit int) ([]*models.Execution, error) {
	if err := s.checkRuleAccess(ctx, actor, ruleID, permissions.OperationRead); err != nil {
		return nil, err
	}

	executions, err := s.persistence.Executions().ListByRule(ctx, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Cancel aborts a running execution.
func (s *Executions) Cancel(ctx context.Context, actor permissions.Actor, executionID string) error {
	execution, err := s.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if err := s.checkRuleAccess(ctx, actor, execution.RuleID, permissions.OperationExecute); err != nil {
		return err
	}

	if !s.engine.Cancel(executionID) {
		return ErrExecutionNotRunning
	}

	s.logger.Info("Execution cancelled", "execution_id", executionID, "cancelled_by", actor.ID)

	return nil
}

// Retry starts a fresh execution from a failed one's trigger and input.
func (s *Executions) Retry(ctx context.Context, actor permissions.Actor, executionID string) (*models.Execution, error) {
	execution, err := s.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status != models.ExecutionStatusFailed && execution.Status != models.ExecutionStatusTimeout {
		return nil, ErrExecutionNotRetryable
	}

	rule, err := s.persistence.Rules().GetByID(ctx, execution.RuleID)
	if err != nil {
		return nil, err
	}

	if !s.checker.Allowed(actor, rule, permissions.OperationExecute) {
		return nil, ErrPermissionDenied
	}

	s.logger.Info("Retrying execution", "execution_id", executionID, "rule_id", rule.ID)

	return s.engine.Execute(ctx, rule, engine.Request{
		Trigger:     execution.Trigger,
		InputData:   execution.InputData,
		TriggeredBy: actor.ID,
	})
}

func (s *Executions) checkRuleAccess(ctx context.Context, actor permissions.Actor, ruleID string, op permissions.Operation) error {
	rule, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		// Executions outlive soft-deleted rules; only admins keep access.
		if persistence.IsRuleNotFound(err) && actor.Role == permissions.RoleAdmin {
			return nil
		}

		return err
	}

	if !s.checker.Allowed(actor, rule, op) {
		return ErrPermissionDenied
	}

	return nil
}
