package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewatch/sentinel/pkg/eventbus"
	"github.com/tracewatch/sentinel/pkg/events"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/persistence"
	"github.com/tracewatch/sentinel/pkg/persistence/file"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/registry"
)

type stubEvaluator struct {
	calls *atomic.Int64
	run   func(ctx context.Context) (*models.EvaluatorResult, error)
}

func (s *stubEvaluator) Run(ctx context.Context, _ protocol.ExecutionContext, _ *slog.Logger) (*models.EvaluatorResult, error) {
	s.calls.Add(1)

	return s.run(ctx)
}

type stubEvaluatorFactory struct {
	calls atomic.Int64
	run   func(ctx context.Context) (*models.EvaluatorResult, error)
}

func (f *stubEvaluatorFactory) ID() models.EvaluatorType { return models.EvaluatorTypeCustomFunction }
func (f *stubEvaluatorFactory) Schema() map[string]any   { return nil }

func (f *stubEvaluatorFactory) Create(_ map[string]any) (protocol.Evaluator, error) {
	return &stubEvaluator{calls: &f.calls, run: f.run}, nil
}

type stubAction struct {
	calls   *atomic.Int64
	execute func(ctx context.Context) (any, error)
}

func (s *stubAction) Execute(ctx context.Context, _ protocol.ExecutionContext, _ *slog.Logger) (any, error) {
	s.calls.Add(1)

	return s.execute(ctx)
}

type stubActionFactory struct {
	calls   atomic.Int64
	execute func(ctx context.Context) (any, error)
}

func (f *stubActionFactory) ID() models.ActionType  { return models.ActionTypeLog }
func (f *stubActionFactory) Schema() map[string]any { return nil }

func (f *stubActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &stubAction{calls: &f.calls, execute: f.execute}, nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) all() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

func (p *capturingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, len(p.events))
	for i, event := range p.events {
		out[i] = string(event.GetType())
	}

	return out
}

type recordingStatsSink struct {
	calls atomic.Int64
}

func (s *recordingStatsSink) RecordStatistics(_ context.Context, _, _ string, _ int64, _ bool) error {
	s.calls.Add(1)

	return nil
}

func scoringEvaluator(value float64) func(context.Context) (*models.EvaluatorResult, error) {
	return func(_ context.Context) (*models.EvaluatorResult, error) {
		confidence := 1.0

		return &models.EvaluatorResult{
			Status:     models.ComponentStatusCompleted,
			Value:      value,
			Confidence: &confidence,
		}, nil
	}
}

func failingEvaluator(message string) func(context.Context) (*models.EvaluatorResult, error) {
	return func(_ context.Context) (*models.EvaluatorResult, error) {
		return &models.EvaluatorResult{
			Status: models.ComponentStatusFailed,
			Error:  message,
		}, nil
	}
}

func okAction() func(context.Context) (any, error) {
	return func(_ context.Context) (any, error) {
		return map[string]any{"logged": true}, nil
	}
}

func testRule() *models.Rule {
	now := time.Now().UTC()

	return &models.Rule{
		ID:          "rule-1",
		Name:        "quality gate",
		Type:        models.RuleTypeQualityCheck,
		WorkspaceID: "ws-1",
		Trigger:     models.TriggerTypeManual,
		Evaluators: []models.Evaluator{
			{ID: "quality", Name: "Quality", Type: models.EvaluatorTypeCustomFunction},
		},
		Actions: []models.Action{
			{ID: "notify", Name: "Notify", Type: models.ActionTypeLog},
		},
		Status:    models.RuleStatusActive,
		IsActive:  true,
		Priority:  5,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testRequest() Request {
	return Request{
		Trigger: models.ExecutionTrigger{
			Type:      models.TriggerTypeManual,
			Source:    "test",
			Timestamp: time.Now().UTC(),
		},
		InputData:   map[string]any{"trace": map[string]any{"id": "t-1"}},
		TriggeredBy: "user-1",
	}
}

func newTestEngine(t *testing.T, evalFactory *stubEvaluatorFactory, actFactory *stubActionFactory, opts ...Option) (*Engine, persistence.Persistence, *capturingPublisher) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewRegistry(logger)
	reg.RegisterEvaluator(evalFactory)
	reg.RegisterAction(actFactory)

	persist := file.NewPersistence(t.TempDir())
	publisher := &capturingPublisher{}

	return NewEngine(logger, reg, persist, publisher, opts...), persist, publisher
}

func TestEngine_CompletedExecution(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, persist, publisher := newTestEngine(t, evalFactory, actFactory)

	ctx := context.Background()
	rule := testRule()
	rule.Actions[0].ExecuteWhen = []models.ExecutionCondition{
		{EvaluatorID: "quality", Operator: models.OperatorGreaterThan, Value: 0.5},
	}
	require.NoError(t, persist.Rules().Save(ctx, rule))

	execution, err := engine.Execute(ctx, rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.EvaluatorResults, 1)
	assert.Equal(t, "quality", execution.EvaluatorResults[0].EvaluatorID)
	require.Len(t, execution.ActionResults, 1)
	assert.Equal(t, models.ComponentStatusCompleted, execution.ActionResults[0].Status)
	assert.EqualValues(t, 1, actFactory.calls.Load())
	assert.NotNil(t, execution.CompletedAt)

	stored, err := persist.Executions().GetByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, stored.Status)

	updated, err := persist.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated.Statistics.TotalExecutions)
	assert.EqualValues(t, 1, execution.ExecutionNumber)

	assert.Equal(t, []string{"rule.execution.started", "rule.execution.completed"}, publisher.types())

	var completedEvent *events.RuleExecutionCompleted

	for _, event := range publisher.all() {
		if typed, ok := event.(*events.RuleExecutionCompleted); ok {
			completedEvent = typed
		}
	}

	require.NotNil(t, completedEvent)
	assert.Equal(t, models.ExecutionStatusCompleted, completedEvent.Status)
}

func TestEngine_ConditionsSkipExecution(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Conditions = []models.Condition{
		{FieldPath: "environment", Operator: models.OperatorEquals, Value: "production"},
	}

	req := testRequest()
	req.InputData = map[string]any{"environment": "staging"}

	execution, err := engine.Execute(context.Background(), rule, req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSkipped, execution.Status)
	assert.Empty(t, execution.EvaluatorResults)
	assert.Empty(t, execution.ActionResults)
	assert.EqualValues(t, 0, evalFactory.calls.Load())
}

func TestEngine_RequiredEvaluatorStopsExecution(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: failingEvaluator("provider unavailable")}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Evaluators[0].IsRequired = true
	rule.Evaluators[0].FailureHandling = models.FailureHandlingStop

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Empty(t, execution.ActionResults)
	assert.EqualValues(t, 0, actFactory.calls.Load())

	require.NotNil(t, execution.Error)
	assert.Equal(t, models.PhaseEvaluator, execution.Error.Phase)
	assert.Equal(t, "quality", execution.Error.ComponentID)
	assert.False(t, execution.Error.Recoverable)
}

func TestEngine_OptionalEvaluatorFailureContinues(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: failingEvaluator("flaky")}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Evaluators[0].IsRequired = false

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.ActionResults, 1)
	assert.Equal(t, models.ComponentStatusCompleted, execution.ActionResults[0].Status)
}

func TestEngine_ExecuteWhenNotMetSkipsAction(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.3)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Actions[0].ExecuteWhen = []models.ExecutionCondition{
		{EvaluatorID: "quality", Operator: models.OperatorGreaterThan, Value: 0.5},
	}

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.ActionResults, 1)
	assert.Equal(t, models.ComponentStatusSkipped, execution.ActionResults[0].Status)
	assert.EqualValues(t, 0, actFactory.calls.Load())
}

func TestEngine_DryRunNeverTouchesRunnersOrStore(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	sink := &recordingStatsSink{}
	engine, persist, _ := newTestEngine(t, evalFactory, actFactory, WithStatisticsSink(sink))

	ctx := context.Background()
	rule := testRule()
	require.NoError(t, persist.Rules().Save(ctx, rule))

	req := testRequest()
	req.DryRun = true

	execution, err := engine.Execute(ctx, rule, req)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.EvaluatorResults, 1)
	assert.Equal(t, map[string]any{"dry_run": true}, execution.EvaluatorResults[0].Value)
	require.Len(t, execution.ActionResults, 1)
	assert.EqualValues(t, 0, evalFactory.calls.Load())
	assert.EqualValues(t, 0, actFactory.calls.Load())
	assert.EqualValues(t, 0, sink.calls.Load())

	_, err = persist.Executions().GetByID(ctx, execution.ID)
	assert.True(t, persistence.IsExecutionNotFound(err))

	stored, err := persist.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stored.Statistics.TotalExecutions)
}

func TestEngine_RetriesEvaluatorWithBackoff(t *testing.T) {
	var attempts atomic.Int64

	evalFactory := &stubEvaluatorFactory{run: func(_ context.Context) (*models.EvaluatorResult, error) {
		if attempts.Add(1) == 1 {
			return &models.EvaluatorResult{Status: models.ComponentStatusFailed, Error: "connection refused"}, nil
		}

		confidence := 1.0

		return &models.EvaluatorResult{Status: models.ComponentStatusCompleted, Value: 0.8, Confidence: &confidence}, nil
	}}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.RetryConfig = models.RetryConfig{MaxRetries: 2, BackoffMS: 1, MaxBackoffMS: 5}

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestEngine_RetryFilterSkipsNonMatchingErrors(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: failingEvaluator("schema mismatch")}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Evaluators[0].IsRequired = true
	rule.RetryConfig = models.RetryConfig{MaxRetries: 3, BackoffMS: 1, RetryOnErrors: []string{"timeout", "connection"}}

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.EqualValues(t, 1, evalFactory.calls.Load())
}

func TestEngine_ActionFailureAbortsRemaining(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: func(_ context.Context) (any, error) {
		return nil, assert.AnError
	}}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Actions = append(rule.Actions, models.Action{ID: "second", Name: "Second", Type: models.ActionTypeLog})

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	require.Len(t, execution.ActionResults, 1)
	require.NotNil(t, execution.Error)
	assert.Equal(t, models.PhaseAction, execution.Error.Phase)
	assert.Equal(t, "notify", execution.Error.ComponentID)
}

func TestEngine_ContinueOnErrorRunsRemainingActions(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}

	var calls atomic.Int64

	actFactory := &stubActionFactory{execute: func(_ context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, assert.AnError
		}

		return "ok", nil
	}}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Actions[0].ContinueOnError = true
	rule.Actions = append(rule.Actions, models.Action{ID: "second", Name: "Second", Type: models.ActionTypeLog})

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.ActionResults, 2)
	assert.Equal(t, models.ComponentStatusFailed, execution.ActionResults[0].Status)
	assert.Equal(t, models.ComponentStatusCompleted, execution.ActionResults[1].Status)
}

func TestEngine_DependentEvaluatorsRunInOrder(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.8)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Evaluators = []models.Evaluator{
		{ID: "base", Name: "Base", Type: models.EvaluatorTypeCustomFunction},
		{ID: "derived", Name: "Derived", Type: models.EvaluatorTypeCustomFunction, DependsOn: []string{"base"}},
	}

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.Len(t, execution.EvaluatorResults, 2)
	assert.Equal(t, "base", execution.EvaluatorResults[0].EvaluatorID)
	assert.Equal(t, "derived", execution.EvaluatorResults[1].EvaluatorID)
}

func TestEngine_ConcurrencyLimitSkipsExcessFires(t *testing.T) {
	release := make(chan struct{})

	evalFactory := &stubEvaluatorFactory{run: func(ctx context.Context) (*models.EvaluatorResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return &models.EvaluatorResult{Status: models.ComponentStatusCompleted, Value: 1.0}, nil
	}}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.Actions = nil

	done := make(chan *models.Execution, 1)

	go func() {
		execution, _ := engine.Execute(context.Background(), rule, testRequest())
		done <- execution
	}()

	require.Eventually(t, func() bool {
		return engine.InFlight(rule.ID) == 1
	}, time.Second, 5*time.Millisecond)

	skipped, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSkipped, skipped.Status)

	close(release)

	first := <-done
	assert.Equal(t, models.ExecutionStatusCompleted, first.Status)
	assert.Equal(t, 0, engine.InFlight(rule.ID))
}

func TestEngine_ConcurrentExecutionsAllCounted(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, persist, _ := newTestEngine(t, evalFactory, actFactory)

	ctx := context.Background()
	rule := testRule()
	rule.ExecutionConfig.MaxConcurrentExecutions = 2
	require.NoError(t, persist.Rules().Save(ctx, rule))

	executions := make(chan *models.Execution, 2)

	for i := 0; i < 2; i++ {
		go func() {
			loaded, err := persist.Rules().GetByID(ctx, rule.ID)
			if err != nil {
				t.Error(err)
				executions <- nil

				return
			}

			execution, err := engine.Execute(ctx, loaded, testRequest())
			if err != nil {
				t.Error(err)
			}

			executions <- execution
		}()
	}

	numbers := make(map[int64]bool, 2)

	for i := 0; i < 2; i++ {
		execution := <-executions
		require.NotNil(t, execution)
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		numbers[execution.ExecutionNumber] = true
	}

	assert.Equal(t, map[int64]bool{1: true, 2: true}, numbers)

	updated, err := persist.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Statistics.TotalExecutions)
	assert.EqualValues(t, 2, updated.Statistics.SuccessfulExecutions)
}

func TestEngine_ConditionTimeoutClassifiedAsTimeout(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	engine.evalConditions = func(_ []models.Condition, _ map[string]any) (bool, error) {
		time.Sleep(time.Second)

		return true, nil
	}

	rule := testRule()
	rule.Conditions = []models.Condition{
		{FieldPath: "environment", Operator: models.OperatorEquals, Value: "production"},
	}
	rule.TimeoutConfig.ConditionMS = 20

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusTimeout, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "timeout", execution.Error.Type)
	assert.Equal(t, models.PhaseCondition, execution.Error.Phase)
	assert.Empty(t, execution.EvaluatorResults)
	assert.EqualValues(t, 0, evalFactory.calls.Load())
}

func TestEngine_CancelRuleExecutions(t *testing.T) {
	started := make(chan struct{})

	evalFactory := &stubEvaluatorFactory{run: func(ctx context.Context) (*models.EvaluatorResult, error) {
		close(started)
		<-ctx.Done()

		return nil, ctx.Err()
	}}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, _ := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()

	done := make(chan *models.Execution, 1)

	go func() {
		execution, _ := engine.Execute(context.Background(), rule, testRequest())
		done <- execution
	}()

	<-started

	cancelled := engine.CancelRuleExecutions(rule.ID)
	assert.Equal(t, 1, cancelled)

	execution := <-done
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Empty(t, execution.ActionResults)
	assert.EqualValues(t, 0, actFactory.calls.Load())
}

func TestEngine_ExecutionTimeoutClassifiedAsTimeout(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: func(ctx context.Context) (*models.EvaluatorResult, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}}
	actFactory := &stubActionFactory{execute: okAction()}
	engine, _, publisher := newTestEngine(t, evalFactory, actFactory)

	rule := testRule()
	rule.TimeoutConfig.ExecutionMS = 50

	execution, err := engine.Execute(context.Background(), rule, testRequest())
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusTimeout, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, "timeout", execution.Error.Type)
	assert.Contains(t, publisher.types(), "rule.execution.failed")
}

func TestEngine_StatisticsSinkReceivesOutcome(t *testing.T) {
	evalFactory := &stubEvaluatorFactory{run: scoringEvaluator(0.9)}
	actFactory := &stubActionFactory{execute: okAction()}
	sink := &recordingStatsSink{}
	engine, persist, _ := newTestEngine(t, evalFactory, actFactory, WithStatisticsSink(sink))

	ctx := context.Background()
	rule := testRule()
	require.NoError(t, persist.Rules().Save(ctx, rule))

	_, err := engine.Execute(ctx, rule, testRequest())
	require.NoError(t, err)

	assert.EqualValues(t, 1, sink.calls.Load())
}
