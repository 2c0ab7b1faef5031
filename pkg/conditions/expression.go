package conditions

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/tracewatch/sentinel/pkg/models"
)

var (
	// ErrInvalidExpression is returned when a CEL condition does not compile
	// or does not produce a boolean.
	ErrInvalidExpression = errors.New("invalid condition expression")
)

// celEnv binds the execution input data as `data` for expression conditions.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("data", cel.DynType))
}

// CompileTree compiles every CEL expression in a condition tree. Called at
// rule-validation time so a bad expression is a ValidationError, not a
// runtime execution failure.
func CompileTree(conds []models.Condition) error {
	for i := range conds {
		if err := compileNode(&conds[i]); err != nil {
			return err
		}
	}

	return nil
}

func compileNode(cond *models.Condition) error {
	if cond.Expression != "" {
		env, err := celEnv()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
		}

		ast, issues := env.Compile(cond.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
		}

		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return fmt.Errorf("%w: expression %q must produce a boolean",
				ErrInvalidExpression, cond.Expression)
		}
	}

	for i := range cond.Conditions {
		if err := compileNode(&cond.Conditions[i]); err != nil {
			return err
		}
	}

	return nil
}

func evaluateExpression(expression string, input map[string]any) (bool, error) {
	env, err := celEnv()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	out, _, err := program.Eval(map[string]any{"data": input})
	if err != nil {
		return false, fmt.Errorf("expression evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression %q produced %T",
			ErrInvalidExpression, expression, out.Value())
	}

	return result, nil
}
