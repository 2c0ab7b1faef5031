package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tracewatch/sentinel/pkg/conditions"
	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

func (e *Engine) runConditions(ctx context.Context, rule *models.Rule, execution *models.Execution, logger *slog.Logger) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	if e.finishFromContext(ctx, execution, models.PhaseCondition) {
		return false
	}

	condCtx, cancel := context.WithTimeout(ctx, phaseTimeout(rule.TimeoutConfig.ConditionMS, defaultConditionTimeout))
	defer cancel()

	type conditionOutcome struct {
		passed bool
		err    error
	}

	outcome := make(chan conditionOutcome, 1)

	go func() {
		passed, err := e.evalConditions(rule.Conditions, execution.InputData)
		outcome <- conditionOutcome{passed: passed, err: err}
	}()

	select {
	case <-condCtx.Done():
		if !e.finishFromContext(ctx, execution, models.PhaseCondition) {
			execution.Error = &models.ExecutionError{
				Type:        "timeout",
				Message:     "condition time budget exceeded",
				Phase:       models.PhaseCondition,
				Recoverable: false,
			}
			execution.Finish(models.ExecutionStatusTimeout)
		}

		return false
	case result := <-outcome:
		if result.err != nil {
			logger.Error("Condition evaluation failed", "error", result.err)
			execution.Fail(&models.ExecutionError{
				Type:        "condition_error",
				Message:     result.err.Error(),
				Phase:       models.PhaseCondition,
				Recoverable: false,
			})

			return false
		}

		return result.passed
	}
}

func (e *Engine) runEvaluators(ctx context.Context, rule *models.Rule, execution *models.Execution, logger *slog.Logger) {
	if len(rule.Evaluators) == 0 {
		return
	}

	levels, err := rule.EvaluatorLevels()
	if err != nil {
		execution.Fail(&models.ExecutionError{
			Type:        "invalid_dependencies",
			Message:     err.Error(),
			Phase:       models.PhaseExecution,
			Recoverable: false,
		})

		return
	}

	completed := make(map[string]models.EvaluatorResult, len(rule.Evaluators))

	for _, level := range levels {
		if e.finishFromContext(ctx, execution, models.PhaseEvaluator) {
			return
		}

		results := e.runEvaluatorLevel(ctx, rule, execution, level, completed, logger)

		for i := range results {
			execution.EvaluatorResults = append(execution.EvaluatorResults, results[i])
			completed[results[i].EvaluatorID] = results[i]
		}

		for i := range level {
			evaluator := &level[i]

			result, ok := execution.ResultFor(evaluator.ID)
			if !ok || result.Status != models.ComponentStatusFailed {
				continue
			}

			if evaluator.IsRequired && stopsOnFailure(evaluator) {
				if e.finishFromContext(ctx, execution, models.PhaseEvaluator) {
					return
				}

				logger.Warn("Required evaluator failed, aborting execution",
					"evaluator_id", evaluator.ID, "error", result.Error)
				execution.Fail(&models.ExecutionError{
					Type:        "evaluator_failed",
					Message:     result.Error,
					Phase:       models.PhaseEvaluator,
					ComponentID: evaluator.ID,
					Recoverable: false,
				})

				return
			}
		}
	}
}

func (e *Engine) runEvaluatorLevel(
	ctx context.Context,
	rule *models.Rule,
	execution *models.Execution,
	level []models.Evaluator,
	completed map[string]models.EvaluatorResult,
	logger *slog.Logger,
) []models.EvaluatorResult {
	execCtx := e.executionContext(execution, completed)
	results := make([]models.EvaluatorResult, len(level))

	limit := ruleConcurrencyLimit(rule)
	if rule.ExecutionConfig.Mode == models.ExecutionModeSequential {
		limit = 1
	}

	semaphore := make(chan struct{}, limit)

	var wg sync.WaitGroup

	for i := range level {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[i] = e.runEvaluator(ctx, rule, &level[i], execCtx, logger)
		}(i)
	}

	wg.Wait()

	return results
}

func (e *Engine) runEvaluator(
	ctx context.Context,
	rule *models.Rule,
	evaluator *models.Evaluator,
	execCtx protocol.ExecutionContext,
	logger *slog.Logger,
) models.EvaluatorResult {
	startedAt := time.Now().UTC()

	if execCtx.DryRun {
		return placeholderEvaluatorResult(evaluator, startedAt)
	}

	logger = logger.With("evaluator_id", evaluator.ID, "evaluator_type", evaluator.Type)

	runner, err := e.registry.CreateEvaluator(evaluator.Type, configWithIdentity(evaluator.Config, evaluator.ID, evaluator.Name))
	if err != nil {
		logger.Error("Failed to create evaluator", "error", err)

		return failedEvaluatorResult(evaluator, startedAt, "create evaluator: "+err.Error())
	}

	timeout := evaluator.Timeout(phaseTimeout(rule.TimeoutConfig.EvaluatorMS, defaultEvaluatorTimeout))
	maxRetries := rule.RetryConfig.MaxRetries

	var lastErr string

	for attempt := 0; attempt <= maxRetries; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		result, runErr := runner.Run(runCtx, execCtx, logger)

		cancel()

		if runErr == nil && result != nil && result.Status != models.ComponentStatusFailed {
			fillEvaluatorIdentity(result, evaluator)

			return *result
		}

		switch {
		case runErr != nil:
			lastErr = runErr.Error()
		case result != nil:
			lastErr = result.Error
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < maxRetries && retryable(lastErr, rule.RetryConfig.RetryOnErrors) {
			delay := backoffDelay(rule.RetryConfig, attempt)
			logger.Warn("Evaluator failed, retrying",
				"attempt", attempt+1, "backoff", delay, "error", lastErr)

			if !sleep(ctx, delay) {
				break
			}

			continue
		}

		if runErr == nil && result != nil {
			fillEvaluatorIdentity(result, evaluator)

			return *result
		}

		break
	}

	return failedEvaluatorResult(evaluator, startedAt, lastErr)
}

func (e *Engine) runActions(ctx context.Context, rule *models.Rule, execution *models.Execution, logger *slog.Logger) {
	if len(rule.Actions) == 0 {
		return
	}

	completed := make(map[string]models.EvaluatorResult, len(execution.EvaluatorResults))
	for i := range execution.EvaluatorResults {
		completed[execution.EvaluatorResults[i].EvaluatorID] = execution.EvaluatorResults[i]
	}

	execCtx := e.executionContext(execution, completed)

	for i := range rule.Actions {
		action := &rule.Actions[i]

		if e.finishFromContext(ctx, execution, models.PhaseAction) {
			return
		}

		shouldRun, err := actionConditionsMet(action, completed)
		if err != nil {
			logger.Error("Action predicate evaluation failed", "action_id", action.ID, "error", err)
			execution.ActionResults = append(execution.ActionResults,
				failedActionResult(action, time.Now().UTC(), "execute_when: "+err.Error()))
			execution.Fail(&models.ExecutionError{
				Type:        "action_predicate_error",
				Message:     err.Error(),
				Phase:       models.PhaseAction,
				ComponentID: action.ID,
				Recoverable: false,
			})

			return
		}

		if !shouldRun {
			logger.Debug("Action predicates not met, skipping", "action_id", action.ID)
			execution.ActionResults = append(execution.ActionResults, skippedActionResult(action))

			continue
		}

		result := e.runAction(ctx, rule, action, execCtx, logger)
		execution.ActionResults = append(execution.ActionResults, result)

		if result.Status == models.ComponentStatusFailed && !action.ContinueOnError {
			if e.finishFromContext(ctx, execution, models.PhaseAction) {
				return
			}

			logger.Warn("Action failed, aborting remaining actions",
				"action_id", action.ID, "error", result.Error)
			execution.Fail(&models.ExecutionError{
				Type:        "action_failed",
				Message:     result.Error,
				Phase:       models.PhaseAction,
				ComponentID: action.ID,
				Recoverable: action.MaxRetries > 0,
			})

			return
		}
	}
}

func (e *Engine) runAction(
	ctx context.Context,
	rule *models.Rule,
	action *models.Action,
	execCtx protocol.ExecutionContext,
	logger *slog.Logger,
) models.ActionResult {
	startedAt := time.Now().UTC()

	if execCtx.DryRun {
		return placeholderActionResult(action, startedAt)
	}

	logger = logger.With("action_id", action.ID, "action_type", action.Type)

	runner, err := e.registry.CreateAction(action.Type, configWithIdentity(action.Config, action.ID, action.Name))
	if err != nil {
		logger.Error("Failed to create action", "error", err)

		return failedActionResult(action, startedAt, "create action: "+err.Error())
	}

	timeout := phaseTimeout(rule.TimeoutConfig.ActionMS, defaultActionTimeout)
	if action.TimeoutMS > 0 {
		timeout = time.Duration(action.TimeoutMS) * time.Millisecond
	}

	var lastErr string

	for attempt := 0; attempt <= action.MaxRetries; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		output, runErr := runner.Execute(runCtx, execCtx, logger)

		cancel()

		if runErr == nil {
			completedAt := time.Now().UTC()

			return models.ActionResult{
				ActionID:    action.ID,
				Name:        action.Name,
				Status:      models.ComponentStatusCompleted,
				Result:      output,
				StartedAt:   startedAt,
				CompletedAt: completedAt,
				DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
			}
		}

		lastErr = runErr.Error()

		if ctx.Err() != nil {
			break
		}

		if attempt < action.MaxRetries && retryable(lastErr, rule.RetryConfig.RetryOnErrors) {
			delay := backoffDelay(rule.RetryConfig, attempt)
			logger.Warn("Action failed, retrying",
				"attempt", attempt+1, "backoff", delay, "error", lastErr)

			if !sleep(ctx, delay) {
				break
			}

			continue
		}

		break
	}

	return failedActionResult(action, startedAt, lastErr)
}

func (e *Engine) executionContext(execution *models.Execution, completed map[string]models.EvaluatorResult) protocol.ExecutionContext {
	snapshot := make(map[string]models.EvaluatorResult, len(completed))
	for id, result := range completed {
		snapshot[id] = result
	}

	return protocol.ExecutionContext{
		ExecutionID:      execution.ID,
		RuleID:           execution.RuleID,
		RuleName:         execution.RuleName,
		WorkspaceID:      execution.WorkspaceID,
		TriggeredBy:      execution.Metadata.TriggeredBy,
		InputData:        execution.InputData,
		EvaluatorResults: snapshot,
		DryRun:           execution.Metadata.DryRun,
	}
}

// finishFromContext terminates the execution when its context already
// expired, classifying deadline as timeout and cancellation as cancelled.
func (e *Engine) finishFromContext(ctx context.Context, execution *models.Execution, phase models.ExecutionPhase) bool {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		execution.Error = &models.ExecutionError{
			Type:        "timeout",
			Message:     "execution time budget exceeded",
			Phase:       phase,
			Recoverable: false,
		}
		execution.Finish(models.ExecutionStatusTimeout)

		return true
	case errors.Is(ctx.Err(), context.Canceled):
		execution.Finish(models.ExecutionStatusCancelled)

		return true
	default:
		return false
	}
}

func actionConditionsMet(action *models.Action, completed map[string]models.EvaluatorResult) (bool, error) {
	for i := range action.ExecuteWhen {
		cond := &action.ExecuteWhen[i]

		result, ok := completed[cond.EvaluatorID]
		if !ok || result.Status != models.ComponentStatusCompleted {
			return false, nil
		}

		value := result.Value
		if cond.FieldPath != "" {
			value, ok = fieldpath.Lookup(value, cond.FieldPath)
			if !ok {
				return false, nil
			}
		}

		met, err := conditions.Compare(cond.Operator, value, cond.Value, true)
		if err != nil {
			return false, err
		}

		if !met {
			return false, nil
		}
	}

	return true, nil
}

// stopsOnFailure treats an unset failure handling as stop; a required
// evaluator only continues past failure when that is asked for explicitly.
func stopsOnFailure(evaluator *models.Evaluator) bool {
	return evaluator.FailureHandling != models.FailureHandlingContinue
}

func configWithIdentity(config map[string]any, id, name string) map[string]any {
	merged := make(map[string]any, len(config)+2)
	for key, value := range config {
		merged[key] = value
	}

	merged["id"] = id
	merged["name"] = name

	return merged
}

func phaseTimeout(configuredMS int, def time.Duration) time.Duration {
	if configuredMS <= 0 {
		return def
	}

	return time.Duration(configuredMS) * time.Millisecond
}

func retryable(errText string, retryOn []string) bool {
	if len(retryOn) == 0 {
		return true
	}

	lowered := strings.ToLower(errText)
	for _, pattern := range retryOn {
		if strings.Contains(lowered, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

func backoffDelay(cfg models.RetryConfig, attempt int) time.Duration {
	base := time.Duration(cfg.BackoffMS) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
	}

	if cfg.MaxBackoffMS > 0 {
		if ceiling := time.Duration(cfg.MaxBackoffMS) * time.Millisecond; delay > ceiling {
			delay = ceiling
		}
	}

	return delay
}

func sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func placeholderEvaluatorResult(evaluator *models.Evaluator, startedAt time.Time) models.EvaluatorResult {
	completedAt := time.Now().UTC()

	return models.EvaluatorResult{
		EvaluatorID: evaluator.ID,
		Name:        evaluator.Name,
		Status:      models.ComponentStatusCompleted,
		Value:       map[string]any{"dry_run": true},
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Warnings:    []string{"dry run: evaluator not executed"},
	}
}

func failedEvaluatorResult(evaluator *models.Evaluator, startedAt time.Time, errText string) models.EvaluatorResult {
	completedAt := time.Now().UTC()

	return models.EvaluatorResult{
		EvaluatorID: evaluator.ID,
		Name:        evaluator.Name,
		Status:      models.ComponentStatusFailed,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
		Error:       errText,
	}
}

func fillEvaluatorIdentity(result *models.EvaluatorResult, evaluator *models.Evaluator) {
	if result.EvaluatorID == "" {
		result.EvaluatorID = evaluator.ID
	}

	if result.Name == "" {
		result.Name = evaluator.Name
	}
}

func placeholderActionResult(action *models.Action, startedAt time.Time) models.ActionResult {
	completedAt := time.Now().UTC()

	return models.ActionResult{
		ActionID:    action.ID,
		Name:        action.Name,
		Status:      models.ComponentStatusCompleted,
		Result:      map[string]any{"dry_run": true},
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Warnings:    []string{"dry run: action not executed"},
	}
}

func skippedActionResult(action *models.Action) models.ActionResult {
	now := time.Now().UTC()

	return models.ActionResult{
		ActionID:    action.ID,
		Name:        action.Name,
		Status:      models.ComponentStatusSkipped,
		StartedAt:   now,
		CompletedAt: now,
	}
}

func failedActionResult(action *models.Action, startedAt time.Time, errText string) models.ActionResult {
	completedAt := time.Now().UTC()

	return models.ActionResult{
		ActionID:    action.ID,
		Name:        action.Name,
		Status:      models.ComponentStatusFailed,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		DurationMS:  completedAt.Sub(startedAt).Milliseconds(),
		Error:       errText,
	}
}
