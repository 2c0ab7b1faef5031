package models

// ActionType selects the side effect an action applies.
type ActionType string

const (
	ActionTypeFeedback     ActionType = "feedback"
	ActionTypeNotification ActionType = "notification"
	ActionTypeWebhook      ActionType = "webhook"
	ActionTypeTag          ActionType = "tag"
	ActionTypeExport       ActionType = "export"
	ActionTypeLog          ActionType = "log"
)

// ExecutionCondition gates an action on an evaluator's outcome. FieldPath is
// optional and digs into the evaluator's result value; empty means the value
// itself.
type ExecutionCondition struct {
	EvaluatorID string            `json:"evaluator_id" validate:"required"`
	FieldPath   string            `json:"field_path,omitempty"`
	Operator    ConditionOperator `json:"operator"     validate:"required"`
	Value       any               `json:"value"`
}

// Action declares one side-effecting component inside a rule. Actions run in
// declared order after all evaluators finished; every ExecuteWhen predicate
// must hold for the action to run.
type Action struct {
	ID              string               `json:"id"   validate:"required"`
	Name            string               `json:"name" validate:"required"`
	Type            ActionType           `json:"type" validate:"required"`
	Config          map[string]any       `json:"config"`
	ExecuteWhen     []ExecutionCondition `json:"execute_when,omitempty"`
	ContinueOnError bool                 `json:"continue_on_error"`
	MaxRetries      int                  `json:"max_retries" validate:"min=0,max=10"`
	TimeoutMS       int                  `json:"timeout_ms"  validate:"min=0"`
}
