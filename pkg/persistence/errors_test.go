package persistence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleError_WrapsUnderlying(t *testing.T) {
	err := NewRuleError("GetByID", "rule-1", ErrRuleNotFound)

	assert.Contains(t, err.Error(), "GetByID")
	assert.Contains(t, err.Error(), "rule-1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	assert.True(t, IsRuleNotFound(err))
}

func TestRuleError_Message(t *testing.T) {
	err := &RuleError{Op: "Save", RuleID: "rule-2", Err: errors.New("disk full"), Message: "writing definition"}

	assert.Contains(t, err.Error(), "writing definition")
	assert.Contains(t, err.Error(), "disk full")
}

func TestExecutionError(t *testing.T) {
	err := &ExecutionError{Op: "GetByID", ExecutionID: "exec-1", Err: ErrExecutionNotFound}

	assert.Contains(t, err.Error(), "exec-1")
	assert.True(t, IsExecutionNotFound(err))
	assert.False(t, IsRuleNotFound(err))
}
