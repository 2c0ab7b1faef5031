package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_Finish_Terminal(t *testing.T) {
	execution := &Execution{
		ID:        "exec-1",
		Status:    ExecutionStatusRunning,
		StartedAt: time.Now().UTC().Add(-time.Second),
	}

	execution.Finish(ExecutionStatusCompleted)

	require.Equal(t, ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Positive(t, execution.DurationMS)

	// Terminal status is monotonic.
	execution.Finish(ExecutionStatusFailed)
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)

	execution.Fail(&ExecutionError{Phase: PhaseAction, Message: "late failure"})
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
	assert.Nil(t, execution.Error)
}

func TestExecution_Fail(t *testing.T) {
	execution := &Execution{Status: ExecutionStatusRunning, StartedAt: time.Now().UTC()}

	execution.Fail(&ExecutionError{
		Type:        "evaluator_error",
		Phase:       PhaseEvaluator,
		ComponentID: "eval-1",
		Message:     "provider unreachable",
	})

	assert.Equal(t, ExecutionStatusFailed, execution.Status)
	require.NotNil(t, execution.Error)
	assert.Equal(t, PhaseEvaluator, execution.Error.Phase)
	assert.Equal(t, "eval-1", execution.Error.ComponentID)
}

func TestExecution_ResultFor(t *testing.T) {
	execution := &Execution{
		EvaluatorResults: []EvaluatorResult{
			{EvaluatorID: "a", Status: ComponentStatusCompleted},
			{EvaluatorID: "b", Status: ComponentStatusFailed},
		},
	}

	result, ok := execution.ResultFor("b")
	require.True(t, ok)
	assert.Equal(t, ComponentStatusFailed, result.Status)

	_, ok = execution.ResultFor("missing")
	assert.False(t, ok)
}

func TestRuleStatistics_Record(t *testing.T) {
	stats := &RuleStatistics{}
	now := time.Now().UTC()

	stats.Record(ExecutionStatusCompleted, 100*time.Millisecond, now)
	stats.Record(ExecutionStatusCompleted, 200*time.Millisecond, now)
	stats.Record(ExecutionStatusFailed, 400*time.Millisecond, now)
	stats.Record(ExecutionStatusSkipped, time.Millisecond, now)

	assert.Equal(t, int64(4), stats.TotalExecutions)
	assert.Equal(t, int64(2), stats.SuccessfulExecutions)
	assert.Equal(t, int64(1), stats.FailedExecutions)
	assert.Equal(t, int64(1), stats.SkippedExecutions)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
	require.NotNil(t, stats.LastExecutedAt)
	require.Len(t, stats.Trend, 1)
	assert.Equal(t, int64(4), stats.Trend[0].Total)
}

func TestRuleStatistics_Percentiles(t *testing.T) {
	stats := &RuleStatistics{}
	now := time.Now().UTC()

	for i := 1; i <= 100; i++ {
		stats.Record(ExecutionStatusCompleted, time.Duration(i)*time.Millisecond, now)
	}

	assert.Equal(t, int64(95), stats.P95DurationMS)
	assert.Equal(t, int64(99), stats.P99DurationMS)
}

func TestRuleStatistics_SampleCap(t *testing.T) {
	stats := &RuleStatistics{}
	now := time.Now().UTC()

	for i := 0; i < latencySampleCap+50; i++ {
		stats.Record(ExecutionStatusCompleted, time.Millisecond, now)
	}

	assert.Len(t, stats.LatencySamplesMS, latencySampleCap)
}
