// Package engine runs rule executions: conditions, evaluator dependency
// levels, actions and statistics, in that order. Failures are classified and
// recorded on the Execution; the engine never propagates them as panics or
// process-level errors.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tracewatch/sentinel/pkg/conditions"
	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/events"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/otelhelper"
	"github.com/tracewatch/sentinel/pkg/persistence"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/registry"
)

const (
	defaultConditionTimeout = 5 * time.Second
	defaultEvaluatorTimeout = 30 * time.Second
	defaultActionTimeout    = 30 * time.Second
	defaultExecutionTimeout = 5 * time.Minute
)

// Request describes one execution ask handed to the engine.
type Request struct {
	Trigger     models.ExecutionTrigger
	InputData   map[string]any
	TriggeredBy string
	DryRun      bool

	// ExecutionID pre-assigns the execution's id, so async callers can hand
	// it out before the run finishes. Empty means a fresh id.
	ExecutionID string
}

// Engine executes rules. Safe for concurrent use; each Execute call runs
// independently and per-rule concurrency is bounded by the rule's
// execution config.
type Engine struct {
	logger     *slog.Logger
	registry   *registry.Registry
	executions persistence.ExecutionRepository
	rules      persistence.RuleRepository
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	statsSink  protocol.StatisticsSink

	// evalConditions is swapped in tests to simulate slow condition trees.
	evalConditions func(conds []models.Condition, input map[string]any) (bool, error)

	tracker *executionTracker
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithTracer attaches an OpenTelemetry tracer; one span is recorded per
// execution.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithStatisticsSink forwards per-execution statistics to an external
// consumer in addition to the rule's own persisted statistics.
func WithStatisticsSink(sink protocol.StatisticsSink) Option {
	return func(e *Engine) { e.statsSink = sink }
}

func NewEngine(
	logger *slog.Logger,
	reg *registry.Registry,
	persist persistence.Persistence,
	publisher eventbus.EventPublisher,
	opts ...Option,
) *Engine {
	engine := &Engine{
		logger:         logger.With("component", "engine"),
		registry:       reg,
		executions:     persist.Executions(),
		rules:          persist.Rules(),
		publisher:      publisher,
		evalConditions: conditions.Evaluate,
		tracker:        newExecutionTracker(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Execute runs the rule once and returns the finished Execution. The returned
// error covers engine-internal problems only; rule-level failures are encoded
// in the execution status and its structured error.
func (e *Engine) Execute(ctx context.Context, rule *models.Rule, req Request) (*models.Execution, error) {
	execution := e.newExecution(rule, req)

	logger := e.logger.With(
		"rule_id", rule.ID,
		"execution_id", execution.ID,
		"dry_run", req.DryRun,
	)

	if !e.tracker.acquire(rule.ID, ruleConcurrencyLimit(rule)) {
		logger.Warn("Concurrency limit reached, skipping execution",
			"limit", ruleConcurrencyLimit(rule))
		execution.Finish(models.ExecutionStatusSkipped)
		e.recordStatistics(ctx, rule, execution, logger)
		e.persistExecution(ctx, execution, logger)

		return execution, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, executionTimeout(rule))
	e.tracker.register(execution.ID, rule.ID, cancel)

	defer func() {
		e.tracker.release(execution.ID, rule.ID)
		cancel()
	}()

	if e.tracer != nil {
		var span trace.Span

		runCtx, span = otelhelper.StartSpan(runCtx, e.tracer, "rule.execute",
			attribute.String("rule.id", rule.ID),
			attribute.String("execution.id", execution.ID),
			attribute.Bool("execution.dry_run", req.DryRun),
		)
		defer func() {
			if execution.Error != nil {
				otelhelper.SetError(span, execution.Error)
			}

			span.SetAttributes(attribute.String("execution.status", string(execution.Status)))
			span.End()
		}()
	}

	logger.Info("Starting rule execution", "rule_name", rule.Name)

	execution.Status = models.ExecutionStatusRunning
	e.persistExecution(runCtx, execution, logger)
	e.publish(ctx, rule.ID, &events.RuleExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.RuleExecutionStartedEvent, rule.ID),
		ExecutionID: execution.ID,
		TriggeredBy: req.TriggeredBy,
		InputData:   req.InputData,
		DryRun:      req.DryRun,
	})

	e.runPhases(runCtx, rule, execution, logger)

	if !execution.Status.Terminal() {
		execution.Finish(models.ExecutionStatusCompleted)
	}

	e.recordStatistics(ctx, rule, execution, logger)
	e.persistExecution(ctx, execution, logger)
	e.publishOutcome(ctx, rule, execution)

	logger.Info("Rule execution finished",
		"status", execution.Status,
		"duration_ms", execution.DurationMS)

	return execution, nil
}

// Cancel aborts a running execution. Returns false when the execution is not
// in flight.
func (e *Engine) Cancel(executionID string) bool {
	return e.tracker.cancel(executionID)
}

// CancelRuleExecutions aborts every in-flight execution of the rule and
// returns how many were cancelled. Called before a rule is purged.
func (e *Engine) CancelRuleExecutions(ruleID string) int {
	return e.tracker.cancelRule(ruleID)
}

// InFlight reports the number of currently running executions for the rule.
func (e *Engine) InFlight(ruleID string) int {
	return e.tracker.inFlight(ruleID)
}

func (e *Engine) newExecution(rule *models.Rule, req Request) *models.Execution {
	id := req.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}

	return &models.Execution{
		ID:          id,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		WorkspaceID: rule.WorkspaceID,
		Trigger:     req.Trigger,
		InputData:   req.InputData,
		Status:      models.ExecutionStatusPending,
		StartedAt:   time.Now().UTC(),
		Metadata: models.ExecutionMetadata{
			DryRun:      req.DryRun,
			TriggeredBy: req.TriggeredBy,
		},
	}
}

func (e *Engine) runPhases(ctx context.Context, rule *models.Rule, execution *models.Execution, logger *slog.Logger) {
	passed := e.runConditions(ctx, rule, execution, logger)
	if execution.Status.Terminal() {
		return
	}

	if !passed {
		logger.Info("Conditions not met, skipping execution")
		execution.Finish(models.ExecutionStatusSkipped)

		return
	}

	e.runEvaluators(ctx, rule, execution, logger)
	if execution.Status.Terminal() {
		return
	}

	e.runActions(ctx, rule, execution, logger)
}

func (e *Engine) recordStatistics(ctx context.Context, rule *models.Rule, execution *models.Execution, logger *slog.Logger) {
	if execution.Metadata.DryRun {
		return
	}

	completedAt := time.Now().UTC()
	if execution.CompletedAt != nil {
		completedAt = *execution.CompletedAt
	}

	duration := time.Duration(execution.DurationMS) * time.Millisecond

	stats, err := e.rules.RecordExecution(ctx, rule.ID, execution.Status, duration, completedAt)
	if err != nil {
		logger.Error("Failed to persist rule statistics", "error", err)
	} else {
		rule.Statistics = stats
		execution.ExecutionNumber = stats.TotalExecutions
	}

	if e.statsSink != nil {
		succeeded := execution.Status == models.ExecutionStatusCompleted
		if err := e.statsSink.RecordStatistics(ctx, rule.ID, execution.ID, execution.DurationMS, succeeded); err != nil {
			logger.Error("Failed to report statistics", "error", err)
		}
	}
}

func (e *Engine) persistExecution(ctx context.Context, execution *models.Execution, logger *slog.Logger) {
	if execution.Metadata.DryRun {
		return
	}

	if err := e.executions.Save(persistContext(ctx), execution); err != nil {
		logger.Error("Failed to persist execution", "error", err)
	}
}

func (e *Engine) publishOutcome(ctx context.Context, rule *models.Rule, execution *models.Execution) {
	switch execution.Status {
	case models.ExecutionStatusFailed, models.ExecutionStatusTimeout:
		e.publish(ctx, rule.ID, &events.RuleExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.RuleExecutionFailedEvent, rule.ID),
			ExecutionID: execution.ID,
			Error:       execution.Error,
			DurationMS:  execution.DurationMS,
		})
	case models.ExecutionStatusCancelled:
		e.publish(ctx, rule.ID, &events.RuleExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.RuleExecutionCancelledEvent, rule.ID),
			ExecutionID: execution.ID,
			Reason:      "execution cancelled",
		})
	default:
		e.publish(ctx, rule.ID, &events.RuleExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.RuleExecutionCompletedEvent, rule.ID),
			ExecutionID: execution.ID,
			Status:      execution.Status,
			DurationMS:  execution.DurationMS,
		})
	}
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(persistContext(ctx), key, event); err != nil {
		e.logger.Error("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// persistContext detaches persistence and publishing from the execution's
// own deadline so a timed-out run still gets its final record written.
func persistContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func ruleConcurrencyLimit(rule *models.Rule) int {
	if rule.ExecutionConfig.MaxConcurrentExecutions <= 0 {
		return 1
	}

	return rule.ExecutionConfig.MaxConcurrentExecutions
}

func executionTimeout(rule *models.Rule) time.Duration {
	if rule.TimeoutConfig.ExecutionMS <= 0 {
		return defaultExecutionTimeout
	}

	return time.Duration(rule.TimeoutConfig.ExecutionMS) * time.Millisecond
}
