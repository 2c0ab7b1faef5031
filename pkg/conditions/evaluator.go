// Package conditions evaluates a rule's condition tree against input data.
package conditions

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/models"
)

var (
	// ErrUnknownOperator is returned for operators outside the supported set.
	ErrUnknownOperator = errors.New("unknown condition operator")
)

// Evaluate applies an ordered condition list to input data. An empty list
// always passes. Top-level conditions combine with AND; a branch condition
// combines its children with its own logical operator.
func Evaluate(conds []models.Condition, input map[string]any) (bool, error) {
	for i := range conds {
		ok, err := evaluateNode(&conds[i], input)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func evaluateNode(cond *models.Condition, input map[string]any) (bool, error) {
	if cond.IsBranch() {
		return evaluateBranch(cond, input)
	}

	if cond.Expression != "" {
		result, err := evaluateExpression(cond.Expression, input)
		if err != nil {
			return false, err
		}

		if cond.Negated {
			result = !result
		}

		return result, nil
	}

	result, err := evaluateLeaf(cond, input)
	if err != nil {
		return false, err
	}

	if cond.Negated {
		result = !result
	}

	return result, nil
}

func evaluateBranch(cond *models.Condition, input map[string]any) (bool, error) {
	or := cond.LogicalOperator == models.LogicalOr

	result := !or // AND starts true, OR starts false

	for i := range cond.Conditions {
		ok, err := evaluateNode(&cond.Conditions[i], input)
		if err != nil {
			return false, err
		}

		if or && ok {
			result = true

			break
		}

		if !or && !ok {
			result = false

			break
		}
	}

	if cond.Negated {
		result = !result
	}

	return result, nil
}

func evaluateLeaf(cond *models.Condition, input map[string]any) (bool, error) {
	fieldValue, found := fieldpath.Lookup(input, cond.FieldPath)

	if !found {
		// Only the negative-membership operators pass on a missing field.
		switch cond.Operator {
		case models.OperatorNotEquals, models.OperatorNotContains, models.OperatorNotInArray:
			return true, nil
		default:
			return false, nil
		}
	}

	return Compare(cond.Operator, fieldValue, cond.Value, cond.IsCaseSensitive())
}

// Compare applies a single operator between a resolved field value and the
// declared comparison value.
func Compare(op models.ConditionOperator, fieldValue, condValue any, caseSensitive bool) (bool, error) {
	switch op {
	case models.OperatorEquals:
		return valuesEqual(fieldValue, condValue, caseSensitive), nil
	case models.OperatorNotEquals:
		return !valuesEqual(fieldValue, condValue, caseSensitive), nil
	case models.OperatorGreaterThan, models.OperatorLessThan,
		models.OperatorGreaterEqual, models.OperatorLessEqual:
		return compareNumeric(op, fieldValue, condValue)
	case models.OperatorContains:
		return stringOp(fieldValue, condValue, caseSensitive, strings.Contains)
	case models.OperatorNotContains:
		ok, err := stringOp(fieldValue, condValue, caseSensitive, strings.Contains)

		return !ok, err
	case models.OperatorStartsWith:
		return stringOp(fieldValue, condValue, caseSensitive, strings.HasPrefix)
	case models.OperatorEndsWith:
		return stringOp(fieldValue, condValue, caseSensitive, strings.HasSuffix)
	case models.OperatorMatchesRegex:
		pattern, ok := condValue.(string)
		if !ok {
			return false, fmt.Errorf("matches_regex requires a string pattern, got %T", condValue)
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}

		return re.MatchString(stringify(fieldValue)), nil
	case models.OperatorInArray:
		return inArray(fieldValue, condValue, caseSensitive)
	case models.OperatorNotInArray:
		ok, err := inArray(fieldValue, condValue, caseSensitive)

		return !ok, err
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

func valuesEqual(a, b any, caseSensitive bool) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
	}

	sa, sb := stringify(a), stringify(b)
	if !caseSensitive {
		return strings.EqualFold(sa, sb)
	}

	return sa == sb
}

func compareNumeric(op models.ConditionOperator, a, b any) (bool, error) {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)

	if !aok || !bok {
		return false, fmt.Errorf("operator %q requires numeric operands, got %T and %T", op, a, b)
	}

	switch op {
	case models.OperatorGreaterThan:
		return fa > fb, nil
	case models.OperatorLessThan:
		return fa < fb, nil
	case models.OperatorGreaterEqual:
		return fa >= fb, nil
	default:
		return fa <= fb, nil
	}
}

func stringOp(fieldValue, condValue any, caseSensitive bool, op func(string, string) bool) (bool, error) {
	haystack := stringify(fieldValue)
	needle := stringify(condValue)

	if !caseSensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}

	return op(haystack, needle), nil
}

func inArray(fieldValue, condValue any, caseSensitive bool) (bool, error) {
	list, ok := condValue.([]any)
	if !ok {
		return false, fmt.Errorf("in_array requires an array value, got %T", condValue)
	}

	for _, item := range list {
		if valuesEqual(fieldValue, item, caseSensitive) {
			return true, nil
		}
	}

	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
