// Package redis provides Redis-backed persistence for rules and executions.
// Rules live in a hash per workspace index plus a JSON document per rule;
// executions keep a capped per-rule index list.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/persistence"
)

const (
	ruleKeyPrefix      = "sentinel:rule:"
	ruleIndexKey       = "sentinel:rules"
	executionKeyPrefix = "sentinel:execution:"
	executionIndex     = "sentinel:executions:rule:"

	// executionIndexCap bounds how many execution ids are kept per rule.
	executionIndexCap = 1000

	// recordExecutionAttempts bounds WATCH retries when statistics writes
	// race each other.
	recordExecutionAttempts = 10
)

// Persistence implements persistence.Persistence on Redis.
type Persistence struct {
	client        *redis.Client
	ruleRepo      *RuleRepository
	executionRepo *ExecutionRepository
}

// NewPersistence connects to Redis using the given URL
// (redis://[user:pass@]host:port/db).
func NewPersistence(url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	return &Persistence{
		client:        client,
		ruleRepo:      &RuleRepository{client: client},
		executionRepo: &ExecutionRepository{client: client},
	}, nil
}

func (p *Persistence) Rules() persistence.RuleRepository {
	return p.ruleRepo
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// RuleRepository stores each rule under its own key and tracks ids in a set.
type RuleRepository struct {
	client *redis.Client
}

func (rr *RuleRepository) Save(ctx context.Context, rule *models.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	pipe := rr.client.TxPipeline()
	pipe.Set(ctx, ruleKeyPrefix+rule.ID, data, 0)
	pipe.SAdd(ctx, ruleIndexKey, rule.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	return nil
}

func (rr *RuleRepository) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	data, err := rr.client.Get(ctx, ruleKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, persistence.NewRuleError("GetByID", id, persistence.ErrRuleNotFound)
		}

		return nil, persistence.NewRuleError("GetByID", id, err)
	}

	var rule models.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, persistence.NewRuleError("GetByID", id, err)
	}

	return &rule, nil
}

func (rr *RuleRepository) FindByName(ctx context.Context, workspaceID, name string) (*models.Rule, error) {
	rules, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if rule.WorkspaceID == workspaceID && rule.Name == name && rule.DeletedAt == nil {
			return rule, nil
		}
	}

	return nil, persistence.NewRuleError("FindByName", name, persistence.ErrRuleNotFound)
}

func (rr *RuleRepository) List(ctx context.Context, opts persistence.ListRulesOptions) (*persistence.RuleListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
		"priority":   true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	allRules, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Rule, 0, len(allRules))

	for _, rule := range allRules {
		if rule.DeletedAt != nil && !opts.IncludeDeleted {
			continue
		}

		if opts.WorkspaceID != "" && rule.WorkspaceID != opts.WorkspaceID {
			continue
		}

		if opts.ProjectID != "" && rule.ProjectID != opts.ProjectID {
			continue
		}

		if opts.Status != nil && rule.Status != *opts.Status {
			continue
		}

		if opts.Type != nil && rule.Type != *opts.Type {
			continue
		}

		filtered = append(filtered, rule)
	}

	sortRules(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))
	startIdx := opts.Offset
	endIdx := opts.Offset + opts.Limit

	if startIdx >= len(filtered) {
		return &persistence.RuleListResult{
			Rules:       make([]*models.Rule, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	if endIdx > len(filtered) {
		endIdx = len(filtered)
	}

	return &persistence.RuleListResult{
		Rules:       filtered[startIdx:endIdx],
		TotalCount:  totalCount,
		HasNextPage: int64(endIdx) < totalCount,
	}, nil
}

func (rr *RuleRepository) ListSchedulable(ctx context.Context) ([]*models.Rule, error) {
	allRules, err := rr.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	schedulable := make([]*models.Rule, 0)

	for _, rule := range allRules {
		if rule.SchedulingEligible() {
			schedulable = append(schedulable, rule)
		}
	}

	return schedulable, nil
}

// RecordExecution folds one execution outcome into the stored rule's
// statistics. The read-fold-write runs inside a WATCH transaction and is
// retried when a concurrent writer touches the rule key, so parallel
// executions of the same rule never lose counter updates.
func (rr *RuleRepository) RecordExecution(ctx context.Context, ruleID string, status models.ExecutionStatus, duration time.Duration, at time.Time) (models.RuleStatistics, error) {
	key := ruleKeyPrefix + ruleID

	var stats models.RuleStatistics

	fold := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return persistence.ErrRuleNotFound
			}

			return err
		}

		var rule models.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			return err
		}

		rule.Statistics.Record(status, duration, at)

		updated, err := json.Marshal(&rule)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)

			return nil
		})
		if err != nil {
			return err
		}

		stats = rule.Statistics

		return nil
	}

	for attempt := 0; attempt < recordExecutionAttempts; attempt++ {
		err := rr.client.Watch(ctx, fold, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return models.RuleStatistics{}, persistence.NewRuleError("RecordExecution", ruleID, err)
		}

		return stats, nil
	}

	return models.RuleStatistics{}, persistence.NewRuleError("RecordExecution", ruleID, redis.TxFailedErr)
}

func (rr *RuleRepository) Delete(ctx context.Context, id string) error {
	rule, err := rr.GetByID(ctx, id)
	if err != nil {
		return persistence.NewRuleError("Delete", id, err)
	}

	now := time.Now().UTC()
	rule.DeletedAt = &now
	rule.IsActive = false

	return rr.Save(ctx, rule)
}

func (rr *RuleRepository) loadAll(ctx context.Context) ([]*models.Rule, error) {
	ids, err := rr.client.SMembers(ctx, ruleIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rule ids: %w", err)
	}

	rules := make([]*models.Rule, 0, len(ids))

	for _, id := range ids {
		rule, err := rr.GetByID(ctx, id)
		if err != nil {
			if persistence.IsRuleNotFound(err) {
				continue
			}

			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

// ExecutionRepository stores executions with a capped per-rule index.
type ExecutionRepository struct {
	client *redis.Client
}

func (er *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return &persistence.ExecutionError{Op: "Save", ExecutionID: execution.ID, Err: err}
	}

	pipe := er.client.TxPipeline()
	pipe.Set(ctx, executionKeyPrefix+execution.ID, data, 0)
	pipe.LRem(ctx, executionIndex+execution.RuleID, 0, execution.ID)
	pipe.LPush(ctx, executionIndex+execution.RuleID, execution.ID)
	pipe.LTrim(ctx, executionIndex+execution.RuleID, 0, executionIndexCap-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return &persistence.ExecutionError{Op: "Save", ExecutionID: execution.ID, Err: err}
	}

	return nil
}

func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	data, err := er.client.Get(ctx, executionKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: persistence.ErrExecutionNotFound}
		}

		return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: err}
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, &persistence.ExecutionError{Op: "GetByID", ExecutionID: id, Err: err}
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListByRule(ctx context.Context, ruleID string, limit int) ([]*models.Execution, error) {
	end := int64(-1)
	if limit > 0 {
		end = int64(limit) - 1
	}

	ids, err := er.client.LRange(ctx, executionIndex+ruleID, 0, end).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for rule %s: %w", ruleID, err)
	}

	executions := make([]*models.Execution, 0, len(ids))

	for _, id := range ids {
		execution, err := er.GetByID(ctx, id)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func sortRules(rules []*models.Rule, sortBy, sortOrder string) {
	sort.Slice(rules, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "name":
			less = rules[i].Name < rules[j].Name
		case "updated_at":
			less = rules[i].UpdatedAt.Before(rules[j].UpdatedAt)
		case "priority":
			less = rules[i].Priority < rules[j].Priority
		default:
			less = rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}
