package models

import "time"

// EvaluatorType selects the execution strategy of an evaluator.
type EvaluatorType string

const (
	EvaluatorTypeLLMJudge       EvaluatorType = "llm_judge"
	EvaluatorTypeScriptMetric   EvaluatorType = "script_metric"
	EvaluatorTypeAPICall        EvaluatorType = "api_call"
	EvaluatorTypeSQLQuery       EvaluatorType = "sql_query"
	EvaluatorTypeJavaScript     EvaluatorType = "javascript"
	EvaluatorTypeCustomFunction EvaluatorType = "custom_function"
)

// FailureHandling tells the engine what to do when a required evaluator fails.
type FailureHandling string

const (
	FailureHandlingStop     FailureHandling = "stop"
	FailureHandlingContinue FailureHandling = "continue"
)

// Evaluator declares one pluggable evaluator inside a rule. Configuration is
// type-specific and validated against the factory's JSON schema when the rule
// is created or updated.
type Evaluator struct {
	ID              string          `json:"id"   validate:"required"`
	Name            string          `json:"name" validate:"required"`
	Type            EvaluatorType   `json:"type" validate:"required"`
	Config          map[string]any  `json:"config"`
	DependsOn       []string        `json:"depends_on,omitempty"`
	IsRequired      bool            `json:"is_required"`
	FailureHandling FailureHandling `json:"failure_handling,omitempty"`
	TimeoutMS       int             `json:"timeout_ms" validate:"min=0"`
}

// Timeout returns the evaluator's budget, falling back to the given default.
func (e *Evaluator) Timeout(def time.Duration) time.Duration {
	if e.TimeoutMS <= 0 {
		return def
	}

	return time.Duration(e.TimeoutMS) * time.Millisecond
}
