package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *Rule {
	return &Rule{
		ID:          "rule-1",
		Name:        "Quality gate",
		Type:        RuleTypeQualityCheck,
		WorkspaceID: "ws-1",
		Trigger:     TriggerTypeSchedule,
		Status:      RuleStatusDraft,
		Priority:    5,
		Evaluators: []Evaluator{
			{ID: "eval-1", Name: "judge", Type: EvaluatorTypeLLMJudge},
		},
		Actions: []Action{
			{ID: "act-1", Name: "notify", Type: ActionTypeNotification},
		},
	}
}

func TestRule_Validate_Valid(t *testing.T) {
	require.NoError(t, validRule().Validate())
}

func TestRule_Validate_MissingName(t *testing.T) {
	rule := validRule()
	rule.Name = ""

	err := rule.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRule_Validate_NoComponents(t *testing.T) {
	rule := validRule()
	rule.Evaluators = nil
	rule.Actions = nil

	assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
}

func TestRule_Validate_DuplicateComponentID(t *testing.T) {
	rule := validRule()
	rule.Evaluators = append(rule.Evaluators, Evaluator{
		ID: "eval-1", Name: "dup", Type: EvaluatorTypeAPICall,
	})

	assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
}

func TestRule_Validate_UnknownDependency(t *testing.T) {
	rule := validRule()
	rule.Evaluators[0].DependsOn = []string{"ghost"}

	assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
}

func TestRule_Validate_DependencyCycle(t *testing.T) {
	rule := validRule()
	rule.Evaluators = []Evaluator{
		{ID: "a", Name: "a", Type: EvaluatorTypeAPICall, DependsOn: []string{"b"}},
		{ID: "b", Name: "b", Type: EvaluatorTypeAPICall, DependsOn: []string{"a"}},
	}

	assert.ErrorIs(t, rule.Validate(), ErrDependencyCycle)
}

func TestRule_Validate_ActionReferencesUnknownEvaluator(t *testing.T) {
	rule := validRule()
	rule.Actions[0].ExecuteWhen = []ExecutionCondition{
		{EvaluatorID: "missing", Operator: OperatorGreaterThan, Value: 0.5},
	}

	assert.ErrorIs(t, rule.Validate(), ErrInvalidRule)
}

func TestRule_EvaluatorLevels_Ordering(t *testing.T) {
	rule := validRule()
	rule.Evaluators = []Evaluator{
		{ID: "a", Name: "a", Type: EvaluatorTypeAPICall},
		{ID: "b", Name: "b", Type: EvaluatorTypeAPICall},
		{ID: "c", Name: "c", Type: EvaluatorTypeAPICall, DependsOn: []string{"a", "b"}},
		{ID: "d", Name: "d", Type: EvaluatorTypeAPICall, DependsOn: []string{"c"}},
	}

	levels, err := rule.EvaluatorLevels()
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Len(t, levels[0], 2)
	assert.Equal(t, "c", levels[1][0].ID)
	assert.Equal(t, "d", levels[2][0].ID)
}

func TestRule_SchedulingEligible(t *testing.T) {
	executeAt := time.Now().Add(time.Hour)
	rule := validRule()
	rule.Schedule = &Schedule{Kind: ScheduleKindOnce, ExecuteAt: &executeAt}

	assert.False(t, rule.SchedulingEligible(), "draft rule must not schedule")

	rule.Status = RuleStatusActive
	rule.IsActive = true
	assert.True(t, rule.SchedulingEligible())

	rule.Schedule = nil
	assert.False(t, rule.SchedulingEligible())
}

func TestRule_Touch(t *testing.T) {
	rule := validRule()
	before := rule.Version

	rule.Touch()

	assert.Equal(t, before+1, rule.Version)
	assert.WithinDuration(t, time.Now().UTC(), rule.UpdatedAt, time.Second)
}
