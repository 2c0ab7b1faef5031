// Package persistence provides the data storage abstraction for rules and
// executions.
package persistence

import (
	"context"
	"time"

	"github.com/tracewatch/sentinel/pkg/models"
)

type Persistence interface {
	Rules() RuleRepository
	Executions() ExecutionRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}

// ListRulesOptions filters and pages rule listings. Soft-deleted rules are
// excluded unless IncludeDeleted is set.
type ListRulesOptions struct {
	WorkspaceID    string
	ProjectID      string
	Status         *models.RuleStatus
	Type           *models.RuleType
	IncludeDeleted bool

	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// RuleListResult is one page of rules.
type RuleListResult struct {
	Rules       []*models.Rule
	TotalCount  int64
	HasNextPage bool
}

type RuleRepository interface {
	List(ctx context.Context, opts ListRulesOptions) (*RuleListResult, error)
	Save(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, id string) (*models.Rule, error)
	FindByName(ctx context.Context, workspaceID, name string) (*models.Rule, error)

	// ListSchedulable returns every rule eligible for scheduling, for
	// scheduler startup recovery.
	ListSchedulable(ctx context.Context) ([]*models.Rule, error)

	// RecordExecution folds one finished execution into the rule's stored
	// statistics inside the repository's own critical section, so concurrent
	// executions of the same rule never lose counter updates. The rule
	// version is not bumped. Returns the updated statistics; the new
	// TotalExecutions doubles as the execution's sequence number.
	RecordExecution(ctx context.Context, ruleID string, status models.ExecutionStatus, duration time.Duration, at time.Time) (models.RuleStatistics, error)

	// Delete soft-deletes the rule.
	Delete(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*models.Execution, error)
}
