package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracewatch/sentinel/pkg/conditions"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/permissions"
	"github.com/tracewatch/sentinel/pkg/persistence"
	"github.com/tracewatch/sentinel/pkg/registry"
)

// RuleScheduler is the slice of the scheduler the rule service drives.
// Satisfied by *scheduler.Scheduler.
type RuleScheduler interface {
	ScheduleRule(rule *models.Rule) error
	Unschedule(ruleID string)
	Pause(ruleID string) bool
	Resume(ctx context.Context, ruleID string) error
}

// ExecutionCanceller aborts in-flight executions of a rule. Satisfied by
// *engine.Engine.
type ExecutionCanceller interface {
	CancelRuleExecutions(ruleID string) int
}

// Rules implements rule lifecycle operations with permission checks.
type Rules struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	checker     *permissions.Checker
	scheduler   RuleScheduler
	canceller   ExecutionCanceller
}

func NewRules(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	checker *permissions.Checker,
	sched RuleScheduler,
	canceller ExecutionCanceller,
) *Rules {
	return &Rules{
		logger:      logger.With("component", "rules_service"),
		persistence: persist,
		registry:    reg,
		checker:     checker,
		scheduler:   sched,
		canceller:   canceller,
	}
}

// HealthCheck reports on the persistence layer.
func (s *Rules) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := s.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// Create validates and stores a new rule. New rules start as drafts unless a
// status is set explicitly.
func (s *Rules) Create(ctx context.Context, actor permissions.Actor, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, ErrRuleNil
	}

	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedBy = actor.ID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Version = 1

	if rule.Status == "" {
		rule.Status = models.RuleStatusDraft
	}

	if rule.Priority == 0 {
		rule.Priority = 5
	}

	if err := s.validateRule(rule); err != nil {
		return nil, err
	}

	if err := s.ensureNameAvailable(ctx, rule.WorkspaceID, rule.Name, rule.ID); err != nil {
		return nil, err
	}

	if err := s.persistence.Rules().Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Info("Rule created", "rule_id", rule.ID, "name", rule.Name, "created_by", actor.ID)

	if rule.SchedulingEligible() {
		s.scheduleRule(rule)
	}

	return rule, nil
}

// Get fetches a rule the actor may read.
func (s *Rules) Get(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error) {
	rule, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !s.checker.Allowed(actor, rule, permissions.OperationRead) {
		return nil, ErrPermissionDenied
	}

	return rule, nil
}

// Update replaces a rule's definition, bumping version and update timestamp.
// Identity, creation and statistics fields are preserved from the stored
// rule.
func (s *Rules) Update(ctx context.Context, actor permissions.Actor, ruleID string, rule *models.Rule) (*models.Rule, error) {
	if rule == nil {
		return nil, ErrRuleNil
	}

	existing, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !s.checker.Allowed(actor, existing, permissions.OperationWrite) {
		return nil, ErrPermissionDenied
	}

	rule.ID = existing.ID
	rule.WorkspaceID = existing.WorkspaceID
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.Statistics = existing.Statistics
	rule.Version = existing.Version

	if rule.Status == "" {
		rule.Status = existing.Status
	}

	if rule.Priority == 0 {
		rule.Priority = existing.Priority
	}

	rule.Touch()

	if err := s.validateRule(rule); err != nil {
		return nil, err
	}

	if rule.Name != existing.Name {
		if err := s.ensureNameAvailable(ctx, rule.WorkspaceID, rule.Name, rule.ID); err != nil {
			return nil, err
		}
	}

	if err := s.persistence.Rules().Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}

	s.logger.Info("Rule updated", "rule_id", rule.ID, "version", rule.Version)

	// The schedule follows the freshest definition.
	s.scheduler.Unschedule(rule.ID)

	if rule.SchedulingEligible() {
		s.scheduleRule(rule)
	}

	return rule, nil
}

// Delete soft-deletes a rule after cancelling its in-flight executions and
// removing its schedule.
func (s *Rules) Delete(ctx context.Context, actor permissions.Actor, ruleID string) error {
	existing, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		return err
	}

	if !s.checker.Allowed(actor, existing, permissions.OperationDelete) {
		return ErrPermissionDenied
	}

	s.scheduler.Unschedule(ruleID)

	if cancelled := s.canceller.CancelRuleExecutions(ruleID); cancelled > 0 {
		s.logger.Info("Cancelled in-flight executions before delete",
			"rule_id", ruleID, "cancelled", cancelled)
	}

	if err := s.persistence.Rules().Delete(ctx, ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	s.logger.Info("Rule deleted", "rule_id", ruleID, "deleted_by", actor.ID)

	return nil
}

// ListRequest filters and pages rule listings.
type ListRequest struct {
	WorkspaceID string
	ProjectID   string
	Status      *models.RuleStatus
	Type        *models.RuleType

	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// ListResponse is one page of readable rules.
type ListResponse struct {
	Rules       []*models.Rule `json:"rules"`
	TotalCount  int64          `json:"total_count"`
	HasNextPage bool           `json:"has_next_page"`
}

// List returns the rules the actor may read, filtered and paged.
func (s *Rules) List(ctx context.Context, actor permissions.Actor, req ListRequest) (*ListResponse, error) {
	if err := validateListRequest(&req); err != nil {
		return nil, err
	}

	result, err := s.persistence.Rules().List(ctx, persistence.ListRulesOptions{
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		Status:      req.Status,
		Type:        req.Type,
		Limit:       req.Limit,
		Offset:      req.Offset,
		SortBy:      req.SortBy,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, ErrInvalidSortField
		}

		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	readable := make([]*models.Rule, 0, len(result.Rules))

	for _, rule := range result.Rules {
		if s.checker.Allowed(actor, rule, permissions.OperationRead) {
			readable = append(readable, rule)
		}
	}

	return &ListResponse{
		Rules:       readable,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// Activate marks the rule active and schedules it when it carries a
// schedule.
func (s *Rules) Activate(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error) {
	return s.transition(ctx, actor, ruleID, func(rule *models.Rule) {
		rule.Status = models.RuleStatusActive
		rule.IsActive = true
	})
}

// Deactivate disables the rule and removes its schedule.
func (s *Rules) Deactivate(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error) {
	return s.transition(ctx, actor, ruleID, func(rule *models.Rule) {
		rule.Status = models.RuleStatusDisabled
		rule.IsActive = false
	})
}

// Pause suspends the rule and its schedule without discarding either.
func (s *Rules) Pause(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error) {
	rule, err := s.transition(ctx, actor, ruleID, func(rule *models.Rule) {
		rule.Status = models.RuleStatusPaused
	})
	if err != nil {
		return nil, err
	}

	s.scheduler.Pause(ruleID)

	return rule, nil
}

// Resume reactivates a paused rule and re-derives its schedule.
func (s *Rules) Resume(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error) {
	rule, err := s.transition(ctx, actor, ruleID, func(rule *models.Rule) {
		rule.Status = models.RuleStatusActive
		rule.IsActive = true
	})
	if err != nil {
		return nil, err
	}

	if rule.SchedulingEligible() {
		if err := s.scheduler.Resume(ctx, ruleID); err != nil {
			s.logger.Error("Failed to resume schedule", "rule_id", ruleID, "error", err)
		}
	}

	return rule, nil
}

func (s *Rules) transition(
	ctx context.Context,
	actor permissions.Actor,
	ruleID string,
	mutate func(*models.Rule),
) (*models.Rule, error) {
	rule, err := s.persistence.Rules().GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !s.checker.Allowed(actor, rule, permissions.OperationWrite) {
		return nil, ErrPermissionDenied
	}

	mutate(rule)
	rule.Touch()

	if err := s.persistence.Rules().Save(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}

	s.logger.Info("Rule status changed", "rule_id", ruleID, "status", rule.Status)

	s.scheduler.Unschedule(ruleID)

	if rule.SchedulingEligible() {
		s.scheduleRule(rule)
	}

	return rule, nil
}

func (s *Rules) scheduleRule(rule *models.Rule) {
	if err := s.scheduler.ScheduleRule(rule); err != nil {
		s.logger.Error("Failed to schedule rule", "rule_id", rule.ID, "error", err)
	}
}

// validateRule combines structural validation, expression compilation and
// registry checks over the rule's evaluator and action configurations.
func (s *Rules) validateRule(rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return NewValidationError("validateRule", "INVALID_RULE", err.Error(), ErrInvalidRequest)
	}

	if err := conditions.CompileTree(rule.Conditions); err != nil {
		return NewValidationError("validateRule", "INVALID_EXPRESSION", err.Error(), ErrInvalidRequest)
	}

	if err := s.registry.ValidateRuleComponents(rule); err != nil {
		return NewValidationError("validateRule", "INVALID_COMPONENTS", err.Error(), ErrInvalidRequest)
	}

	return nil
}

func (s *Rules) ensureNameAvailable(ctx context.Context, workspaceID, name, ruleID string) error {
	existing, err := s.persistence.Rules().FindByName(ctx, workspaceID, name)
	if err != nil {
		if persistence.IsRuleNotFound(err) {
			return nil
		}

		return fmt.Errorf("failed to check name availability: %w", err)
	}

	if existing.ID != ruleID {
		return ErrRuleNameTaken
	}

	return nil
}

func validateListRequest(req *ListRequest) error {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	if req.Limit > 100 {
		req.Limit = 100
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name", "priority"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	return nil
}
