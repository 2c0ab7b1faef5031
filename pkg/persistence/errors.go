// Package persistence provides standardized error types for persistence
// operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRuleNotFound indicates a rule was not found by the given identifier.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleAlreadyExists indicates a rule with the same name already
	// exists in the workspace.
	ErrRuleAlreadyExists = errors.New("rule already exists")

	// ErrExecutionNotFound indicates an execution was not found by the
	// given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidSortField indicates a list request asked for a sort field
	// outside the allowlist.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// RuleError wraps rule-related persistence errors with additional context.
type RuleError struct {
	Op      string // Operation being performed (e.g., "GetByID", "Save", "Delete")
	RuleID  string // Rule ID if applicable
	Err     error  // Underlying error
	Message string // Additional context message
}

func (e *RuleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for rule %s: %s (%v)", e.Op, e.RuleID, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for rule %s: %v", e.Op, e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for rule errors.
func (e *RuleError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRuleError creates a new rule error with context.
func NewRuleError(op, ruleID string, err error) *RuleError {
	return &RuleError{
		Op:     op,
		RuleID: ruleID,
		Err:    err,
	}
}

// ExecutionError wraps execution-related persistence errors.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsRuleNotFound checks if an error indicates a rule was not found.
func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsInvalidSortField checks if an error indicates a rejected sort field.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
