// Package models defines the core domain models for the automation rule engine.
package models

import (
	"time"
)

// RuleType classifies what a rule is for.
type RuleType string

const (
	RuleTypeEvaluation     RuleType = "evaluation"
	RuleTypeNotification   RuleType = "notification"
	RuleTypeTransformation RuleType = "transformation"
	RuleTypeWorkflow       RuleType = "workflow"
	RuleTypeAlert          RuleType = "alert"
	RuleTypeQualityCheck   RuleType = "quality_check"
	RuleTypeAutoTagging    RuleType = "auto_tagging"
	RuleTypeCustom         RuleType = "custom"
)

// RuleStatus represents the lifecycle state of a rule.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "draft"    // Editable, never scheduled
	RuleStatusActive   RuleStatus = "active"   // Executable and schedulable
	RuleStatusPaused   RuleStatus = "paused"   // Temporarily suspended
	RuleStatusDisabled RuleStatus = "disabled" // Turned off by an operator
	RuleStatusArchived RuleStatus = "archived" // Historical, kept for audit
	RuleStatusError    RuleStatus = "error"    // Broken definition or repeated failures
)

// TriggerType identifies what caused (or may cause) a rule to run.
type TriggerType string

const (
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeSchedule  TriggerType = "schedule"
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeAPI       TriggerType = "api"
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeCondition TriggerType = "condition"
)

// Rule represents a persisted automation definition: trigger, conditions,
// evaluators, actions and an optional schedule.
type Rule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"                   validate:"required,min=3,max=120"`
	Description string   `json:"description"`
	Type        RuleType `json:"type"                   validate:"required"`
	WorkspaceID string   `json:"workspace_id"           validate:"required"`
	ProjectID   string   `json:"project_id,omitempty"`

	Trigger    TriggerType `json:"trigger"    validate:"required"`
	Conditions []Condition `json:"conditions"`
	Evaluators []Evaluator `json:"evaluators"`
	Actions    []Action    `json:"actions"`

	ExecutionConfig ExecutionConfig `json:"execution_config"`
	RetryConfig     RetryConfig     `json:"retry_config"`
	TimeoutConfig   TimeoutConfig   `json:"timeout_config"`

	Status   RuleStatus `json:"status"   validate:"required"`
	IsActive bool       `json:"is_active"`
	Priority int        `json:"priority" validate:"min=1,max=10"`

	Schedule    *Schedule      `json:"schedule,omitempty"`
	Permissions Permissions    `json:"permissions"`
	Statistics  RuleStatistics `json:"statistics"`

	Version   int        `json:"version"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ExecutionConfig caps how a rule's executions run.
type ExecutionConfig struct {
	// MaxConcurrentExecutions bounds simultaneous executions of this rule
	// and concurrent evaluators inside one execution. Zero means 1.
	MaxConcurrentExecutions int `json:"max_concurrent_executions" validate:"min=0,max=64"`

	// Mode selects how evaluators without dependencies run.
	Mode ExecutionMode `json:"mode,omitempty"`

	// RateLimitPerMinute caps schedule-driven fires. Zero disables the cap.
	RateLimitPerMinute int `json:"rate_limit_per_minute,omitempty" validate:"min=0"`
}

// ExecutionMode selects sequential or parallel evaluator execution.
type ExecutionMode string

const (
	ExecutionModeParallel   ExecutionMode = "parallel"
	ExecutionModeSequential ExecutionMode = "sequential"
)

// RetryConfig shapes component-level retries inside an execution.
type RetryConfig struct {
	MaxRetries    int      `json:"max_retries"      validate:"min=0,max=10"`
	BackoffMS     int      `json:"backoff_ms"       validate:"min=0"`
	MaxBackoffMS  int      `json:"max_backoff_ms"   validate:"min=0"`
	BackoffFactor float64  `json:"backoff_factor"   validate:"min=0"`
	RetryOnErrors []string `json:"retry_on_errors,omitempty"`
}

// TimeoutConfig holds per-phase time budgets in milliseconds.
type TimeoutConfig struct {
	ConditionMS int `json:"condition_ms" validate:"min=0"`
	EvaluatorMS int `json:"evaluator_ms" validate:"min=0"`
	ActionMS    int `json:"action_ms"    validate:"min=0"`
	ExecutionMS int `json:"execution_ms" validate:"min=0"`
}

// Permissions holds the four independent access-control lists of a rule.
// Entries are actor IDs; role shortcuts are resolved by the permission checker.
type Permissions struct {
	Read    []string `json:"read"`
	Write   []string `json:"write"`
	Execute []string `json:"execute"`
	Delete  []string `json:"delete"`
}

// SchedulingEligible reports whether the scheduler may pick this rule up.
// All three must agree: the active flag, a schedule, and active status.
func (r *Rule) SchedulingEligible() bool {
	return r.IsActive && r.Schedule != nil && r.Status == RuleStatusActive && r.DeletedAt == nil
}

// Touch bumps the version and update timestamp. Call on every mutation.
func (r *Rule) Touch() {
	r.Version++
	r.UpdatedAt = time.Now().UTC()
}

func (r *Rule) evaluatorByID(id string) (*Evaluator, bool) {
	for i := range r.Evaluators {
		if r.Evaluators[i].ID == id {
			return &r.Evaluators[i], true
		}
	}

	return nil, false
}
