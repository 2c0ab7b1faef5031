// Package services implements the rule and execution operations exposed to
// the API layer, wrapping persistence, permissions, the registry, the
// scheduler and the execution engine.
package services

import (
	"errors"
	"fmt"

	"github.com/tracewatch/sentinel/pkg/persistence"
)

// Business logic errors. The web layer maps these onto HTTP status codes.
var (
	// Validation errors (400).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrRuleNil          = errors.New("rule cannot be nil")

	// Permission errors (403).
	ErrPermissionDenied = errors.New("permission denied")

	// Not found (404).
	ErrRuleNotFound      = persistence.ErrRuleNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// Conflicts (409).
	ErrRuleNameTaken         = errors.New("a rule with this name already exists in the workspace")
	ErrRuleNotActive         = errors.New("rule is not active")
	ErrExecutionNotRunning   = errors.New("execution is not running")
	ErrExecutionNotRetryable = errors.New("only failed or timed out executions can be retried")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrRuleNil)
}

// IsPermissionError checks if an error should map to HTTP 403.
func IsPermissionError(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsNotFoundError checks if an error should map to HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsRuleNotFound(err) || persistence.IsExecutionNotFound(err)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRuleNameTaken) ||
		errors.Is(err, ErrRuleNotActive) ||
		errors.Is(err, ErrExecutionNotRunning) ||
		errors.Is(err, ErrExecutionNotRetryable)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
