// Package web provides HTTP request and response types for the rule API.
package web

import "github.com/tracewatch/sentinel/pkg/models"

// CreateRuleRequest represents the request body for creating a new rule.
// Structural validation of components happens in the service layer; the
// tags here only reject obviously broken payloads early.
type CreateRuleRequest struct {
	Name        string          `json:"name"                 validate:"required,min=3,max=120"`
	Description string          `json:"description"`
	Type        models.RuleType `json:"type"                 validate:"required"`
	WorkspaceID string          `json:"workspace_id"         validate:"required"`
	ProjectID   string          `json:"project_id,omitempty"`

	Trigger    models.TriggerType `json:"trigger"    validate:"required"`
	Conditions []models.Condition `json:"conditions"`
	Evaluators []models.Evaluator `json:"evaluators"`
	Actions    []models.Action    `json:"actions"`

	ExecutionConfig models.ExecutionConfig `json:"execution_config"`
	RetryConfig     models.RetryConfig     `json:"retry_config"`
	TimeoutConfig   models.TimeoutConfig   `json:"timeout_config"`

	Priority    int                `json:"priority"              validate:"omitempty,min=1,max=10"`
	Schedule    *models.Schedule   `json:"schedule,omitempty"`
	Permissions models.Permissions `json:"permissions"`
}

// UpdateRuleRequest represents the request body for updating an existing
// rule. Nil fields keep the stored value; slices and configs replace it
// wholesale when present.
type UpdateRuleRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=3,max=120"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"    validate:"omitempty,min=1,max=10"`

	Conditions []models.Condition `json:"conditions,omitempty"`
	Evaluators []models.Evaluator `json:"evaluators,omitempty"`
	Actions    []models.Action    `json:"actions,omitempty"`

	ExecutionConfig *models.ExecutionConfig `json:"execution_config,omitempty"`
	RetryConfig     *models.RetryConfig     `json:"retry_config,omitempty"`
	TimeoutConfig   *models.TimeoutConfig   `json:"timeout_config,omitempty"`

	Schedule    *models.Schedule    `json:"schedule,omitempty"`
	Permissions *models.Permissions `json:"permissions,omitempty"`
}

// ExecuteRuleRequest represents the request body for manually running a rule.
type ExecuteRuleRequest struct {
	InputData map[string]any `json:"input_data"`
	DryRun    bool           `json:"dry_run"`
	Async     bool           `json:"async"`
}
