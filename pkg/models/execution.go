package models

import "time"

// ExecutionStatus is the lifecycle state of one execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled,
		ExecutionStatusTimeout, ExecutionStatusSkipped:
		return true
	default:
		return false
	}
}

// ExecutionPhase locates where inside an execution an error occurred.
type ExecutionPhase string

const (
	PhaseTrigger   ExecutionPhase = "trigger"
	PhaseCondition ExecutionPhase = "condition"
	PhaseEvaluator ExecutionPhase = "evaluator"
	PhaseAction    ExecutionPhase = "action"
	PhaseExecution ExecutionPhase = "execution"
)

// ExecutionTrigger records what fired an execution.
type ExecutionTrigger struct {
	Type      TriggerType    `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ExecutionError is a structured, phase-classified execution failure. It is
// persisted inside the Execution record, never raised out of the engine.
type ExecutionError struct {
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Phase       ExecutionPhase `json:"phase"`
	ComponentID string         `json:"component_id,omitempty"`
	Recoverable bool           `json:"recoverable"`
}

func (e *ExecutionError) Error() string {
	return string(e.Phase) + ": " + e.Message
}

// ComponentStatus is the outcome of one evaluator or action.
type ComponentStatus string

const (
	ComponentStatusCompleted ComponentStatus = "completed"
	ComponentStatusFailed    ComponentStatus = "failed"
	ComponentStatusSkipped   ComponentStatus = "skipped"
)

// EvaluatorResult is the typed outcome of one evaluator run.
type EvaluatorResult struct {
	EvaluatorID string          `json:"evaluator_id"`
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Value       any             `json:"value,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`

	// FallbackEvaluatorID is surfaced by a runner when its confidence fell
	// below the configured threshold. The orchestrator decides whether to
	// use it; the runner never invokes it.
	FallbackEvaluatorID string `json:"fallback_evaluator_id,omitempty"`
}

// ActionResult is the outcome of one action run.
type ActionResult struct {
	ActionID    string          `json:"action_id"`
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Result      any             `json:"result,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	DurationMS  int64           `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// ExecutionMetadata carries run modifiers and the triggering actor.
type ExecutionMetadata struct {
	DryRun      bool   `json:"dry_run,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Execution is one run instance of a rule. The engine owns it while running;
// the persisted snapshot belongs to the store afterwards.
type Execution struct {
	ID               string            `json:"id"`
	RuleID           string            `json:"rule_id"`
	RuleName         string            `json:"rule_name"`
	WorkspaceID      string            `json:"workspace_id"`
	ExecutionNumber  int64             `json:"execution_number"`
	Trigger          ExecutionTrigger  `json:"trigger"`
	InputData        map[string]any    `json:"input_data,omitempty"`
	Status           ExecutionStatus   `json:"status"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	DurationMS       int64             `json:"duration_ms"`
	EvaluatorResults []EvaluatorResult `json:"evaluator_results"`
	ActionResults    []ActionResult    `json:"action_results"`
	Error            *ExecutionError   `json:"error,omitempty"`
	Metadata         ExecutionMetadata `json:"metadata"`
}

// Finish moves the execution to a terminal status and stamps completion.
// Once terminal, the status never changes again.
func (e *Execution) Finish(status ExecutionStatus) {
	if e.Status.Terminal() {
		return
	}

	now := time.Now().UTC()
	e.Status = status
	e.CompletedAt = &now
	e.DurationMS = now.Sub(e.StartedAt).Milliseconds()
}

// Fail finishes the execution as failed with a structured error.
func (e *Execution) Fail(execErr *ExecutionError) {
	if e.Status.Terminal() {
		return
	}

	e.Error = execErr
	e.Finish(ExecutionStatusFailed)
}

// ResultFor returns the recorded result of the given evaluator, if any.
func (e *Execution) ResultFor(evaluatorID string) (*EvaluatorResult, bool) {
	for i := range e.EvaluatorResults {
		if e.EvaluatorResults[i].EvaluatorID == evaluatorID {
			return &e.EvaluatorResults[i], true
		}
	}

	return nil, false
}
