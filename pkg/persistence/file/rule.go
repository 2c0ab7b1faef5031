package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/persistence"
)

// RuleRepository handles rule-related file operations.
type RuleRepository struct {
	root string
	mu   sync.RWMutex
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(root string) *RuleRepository {
	return &RuleRepository{root: root}
}

func (rr *RuleRepository) dir() string {
	return filepath.Join(rr.root, "rules")
}

func (rr *RuleRepository) path(id string) string {
	return filepath.Join(rr.dir(), id+".json")
}

// Save writes the rule as a JSON document, creating the directory on first
// use.
func (rr *RuleRepository) Save(_ context.Context, rule *models.Rule) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if err := os.MkdirAll(rr.dir(), 0o755); err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	if err := os.WriteFile(rr.path(rule.ID), data, 0o600); err != nil {
		return persistence.NewRuleError("Save", rule.ID, err)
	}

	return nil
}

// GetByID loads a rule, including soft-deleted ones.
func (rr *RuleRepository) GetByID(_ context.Context, id string) (*models.Rule, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	return rr.load(id)
}

func (rr *RuleRepository) load(id string) (*models.Rule, error) {
	data, err := os.ReadFile(rr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
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

// FindByName resolves a rule by its workspace-unique name.
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

// List returns paginated and filtered rules with in-memory operations.
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

// ListSchedulable returns every rule the scheduler should pick up.
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
// statistics. Load, fold and write happen under the repository lock so
// concurrent executions of the same rule serialize here.
func (rr *RuleRepository) RecordExecution(_ context.Context, ruleID string, status models.ExecutionStatus, duration time.Duration, at time.Time) (models.RuleStatistics, error) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rule, err := rr.load(ruleID)
	if err != nil {
		return models.RuleStatistics{}, persistence.NewRuleError("RecordExecution", ruleID, err)
	}

	rule.Statistics.Record(status, duration, at)

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return models.RuleStatistics{}, persistence.NewRuleError("RecordExecution", ruleID, err)
	}

	if err := os.WriteFile(rr.path(ruleID), data, 0o600); err != nil {
		return models.RuleStatistics{}, persistence.NewRuleError("RecordExecution", ruleID, err)
	}

	return rule.Statistics, nil
}

// Delete soft-deletes a rule by stamping DeletedAt.
func (rr *RuleRepository) Delete(_ context.Context, id string) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rule, err := rr.load(id)
	if err != nil {
		return persistence.NewRuleError("Delete", id, err)
	}

	now := time.Now().UTC()
	rule.DeletedAt = &now
	rule.IsActive = false

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return persistence.NewRuleError("Delete", id, err)
	}

	return os.WriteFile(rr.path(id), data, 0o600)
}

func (rr *RuleRepository) loadAll(_ context.Context) ([]*models.Rule, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	if _, err := os.Stat(rr.dir()); os.IsNotExist(err) {
		return nil, nil
	}

	root := os.DirFS(rr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list rule files: %w", err)
	}

	rules := make([]*models.Rule, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		ruleID := file[:len(file)-5]

		rule, err := rr.load(ruleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule %s: %w", ruleID, err)
		}

		rules = append(rules, rule)
	}

	return rules, nil
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
