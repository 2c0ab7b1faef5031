package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tracewatch/sentinel/pkg/models"
)

func boolPtr(b bool) *bool { return &b }

func TestEvaluate_EmptyListPasses(t *testing.T) {
	ok, err := Evaluate(nil, map[string]any{"anything": 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate([]models.Condition{}, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_EqualsNotEqualsDuality(t *testing.T) {
	input := map[string]any{"status": "error", "score": 0.5}

	pairs := []struct {
		field string
		value any
	}{
		{"status", "error"},
		{"status", "ok"},
		{"score", 0.5},
		{"score", 0.9},
	}

	for _, pair := range pairs {
		eq, err := Evaluate([]models.Condition{
			{FieldPath: pair.field, Operator: models.OperatorEquals, Value: pair.value},
		}, input)
		require.NoError(t, err)

		neq, err := Evaluate([]models.Condition{
			{FieldPath: pair.field, Operator: models.OperatorNotEquals, Value: pair.value},
		}, input)
		require.NoError(t, err)

		assert.Equal(t, eq, !neq, "equals and not_equals must be logical negations")
	}
}

func TestEvaluate_NumericOperators(t *testing.T) {
	input := map[string]any{"score": 0.5, "count": 10}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"gt false", models.Condition{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: 0.8}, false},
		{"gt true", models.Condition{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: 0.1}, true},
		{"lt", models.Condition{FieldPath: "count", Operator: models.OperatorLessThan, Value: 20}, true},
		{"ge equal", models.Condition{FieldPath: "score", Operator: models.OperatorGreaterEqual, Value: 0.5}, true},
		{"le equal", models.Condition{FieldPath: "count", Operator: models.OperatorLessEqual, Value: 10}, true},
		{"string coercion", models.Condition{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: "0.4"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Evaluate([]models.Condition{tt.cond}, input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestEvaluate_NumericOperatorRejectsNonNumeric(t *testing.T) {
	input := map[string]any{"status": "error"}

	_, err := Evaluate([]models.Condition{
		{FieldPath: "status", Operator: models.OperatorGreaterThan, Value: 1},
	}, input)
	assert.Error(t, err)
}

func TestEvaluate_StringOperators(t *testing.T) {
	input := map[string]any{"message": "Connection Timeout after 30s"}

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{"contains", models.Condition{FieldPath: "message", Operator: models.OperatorContains, Value: "Timeout"}, true},
		{"contains case sensitive miss", models.Condition{FieldPath: "message", Operator: models.OperatorContains, Value: "timeout"}, false},
		{"contains case insensitive", models.Condition{FieldPath: "message", Operator: models.OperatorContains, Value: "timeout", CaseSensitive: boolPtr(false)}, true},
		{"not_contains", models.Condition{FieldPath: "message", Operator: models.OperatorNotContains, Value: "refused"}, true},
		{"starts_with", models.Condition{FieldPath: "message", Operator: models.OperatorStartsWith, Value: "Connection"}, true},
		{"ends_with", models.Condition{FieldPath: "message", Operator: models.OperatorEndsWith, Value: "30s"}, true},
		{"matches_regex", models.Condition{FieldPath: "message", Operator: models.OperatorMatchesRegex, Value: `after \d+s`}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Evaluate([]models.Condition{tt.cond}, input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestEvaluate_ArrayOperators(t *testing.T) {
	input := map[string]any{"env": "staging"}

	ok, err := Evaluate([]models.Condition{
		{FieldPath: "env", Operator: models.OperatorInArray, Value: []any{"staging", "production"}},
	}, input)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate([]models.Condition{
		{FieldPath: "env", Operator: models.OperatorNotInArray, Value: []any{"production"}},
	}, input)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_MissingField(t *testing.T) {
	input := map[string]any{"present": 1}

	// Positive operators fail on a missing field.
	ok, err := Evaluate([]models.Condition{
		{FieldPath: "absent", Operator: models.OperatorEquals, Value: 1},
	}, input)
	require.NoError(t, err)
	assert.False(t, ok)

	// Negative-membership operators pass.
	for _, op := range []models.ConditionOperator{
		models.OperatorNotEquals, models.OperatorNotContains, models.OperatorNotInArray,
	} {
		ok, err := Evaluate([]models.Condition{
			{FieldPath: "absent", Operator: op, Value: []any{"x"}},
		}, input)
		require.NoError(t, err, string(op))
		assert.True(t, ok, string(op))
	}
}

func TestEvaluate_Negated(t *testing.T) {
	input := map[string]any{"score": 0.9}

	ok, err := Evaluate([]models.Condition{
		{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: 0.5, Negated: true},
	}, input)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_NestedTree(t *testing.T) {
	input := map[string]any{"score": 0.3, "status": "error"}

	// score > 0.8 OR status == "error"
	conds := []models.Condition{
		{
			LogicalOperator: models.LogicalOr,
			Conditions: []models.Condition{
				{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: 0.8},
				{FieldPath: "status", Operator: models.OperatorEquals, Value: "error"},
			},
		},
	}

	ok, err := Evaluate(conds, input)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_ScoreThresholdScenario(t *testing.T) {
	// Rule condition score > 0.8 with input score 0.5 must fail, which the
	// engine reports as a skipped execution.
	ok, err := Evaluate([]models.Condition{
		{FieldPath: "score", Operator: models.OperatorGreaterThan, Value: 0.8},
	}, map[string]any{"score": 0.5})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluate_CELExpression(t *testing.T) {
	input := map[string]any{"score": 0.9, "env": "production"}

	ok, err := Evaluate([]models.Condition{
		{Expression: `data.score > 0.5 && data.env == "production"`},
	}, input)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCompileTree_RejectsBadExpression(t *testing.T) {
	err := CompileTree([]models.Condition{{Expression: "data.score >"}})
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestCompileTree_CompilesNested(t *testing.T) {
	err := CompileTree([]models.Condition{
		{
			LogicalOperator: models.LogicalAnd,
			Conditions: []models.Condition{
				{Expression: "data.score > 0.1"},
			},
		},
	})
	assert.NoError(t, err)
}
