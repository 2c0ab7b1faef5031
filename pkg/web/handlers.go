// Package web provides HTTP handlers and REST API endpoints for rule
// management and execution.
package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/permissions"
	"github.com/tracewatch/sentinel/pkg/registry"
	"github.com/tracewatch/sentinel/pkg/services"
)

// Actor identity headers. Authentication happens upstream; the API trusts
// whatever the gateway forwards here.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type APIHandlers struct {
	ruleService      *services.Rules
	executionService *services.Executions
	validator        *validator.Validate
	registry         *registry.Registry
}

func NewAPIHandlers(
	ruleService *services.Rules,
	executionService *services.Executions,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		ruleService:      ruleService,
		executionService: executionService,
		validator:        validator,
		registry:         registry,
	}
}

// actorFrom builds the acting identity from the request headers. Requests
// without an actor id are rejected before reaching the service layer.
func actorFrom(c fiber.Ctx) (permissions.Actor, bool) {
	id := c.Get(HeaderActorID)
	if id == "" {
		return permissions.Actor{}, false
	}

	role := permissions.Role(c.Get(HeaderActorRole))
	if role == "" {
		role = permissions.RoleMember
	}

	return permissions.Actor{ID: id, Role: role}, true
}

func (h *APIHandlers) ListRules(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	req, err := parseListRulesRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.ruleService.List(c.Context(), actor, *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"rules":         result.Rules,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

func parseListRulesRequest(c fiber.Ctx) (*services.ListRequest, error) {
	req := &services.ListRequest{
		WorkspaceID: c.Query("workspace_id"),
		ProjectID:   c.Query("project_id"),
		SortBy:      c.Query("sort_by"),
		SortOrder:   c.Query("sort_order"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.RuleStatus(statusStr)
		req.Status = &status
	}

	if typeStr := c.Query("type"); typeStr != "" {
		ruleType := models.RuleType(typeStr)
		req.Type = &ruleType
	}

	return req, nil
}

func (h *APIHandlers) CreateRule(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	var req CreateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule := &models.Rule{
		Name:            req.Name,
		Description:     req.Description,
		Type:            req.Type,
		WorkspaceID:     req.WorkspaceID,
		ProjectID:       req.ProjectID,
		Trigger:         req.Trigger,
		Conditions:      req.Conditions,
		Evaluators:      req.Evaluators,
		Actions:         req.Actions,
		ExecutionConfig: req.ExecutionConfig,
		RetryConfig:     req.RetryConfig,
		TimeoutConfig:   req.TimeoutConfig,
		Priority:        req.Priority,
		Schedule:        req.Schedule,
		Permissions:     req.Permissions,
	}

	created, err := h.ruleService.Create(c.Context(), actor, rule)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetRule(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	rule, err := h.ruleService.Get(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) UpdateRule(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	var req UpdateRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.ruleService.Get(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	applyRuleUpdate(existing, &req)

	updated, err := h.ruleService.Update(c.Context(), actor, id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// applyRuleUpdate merges a partial update onto the stored rule.
func applyRuleUpdate(rule *models.Rule, req *UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}

	if req.Description != nil {
		rule.Description = *req.Description
	}

	if req.Priority != nil {
		rule.Priority = *req.Priority
	}

	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}

	if req.Evaluators != nil {
		rule.Evaluators = req.Evaluators
	}

	if req.Actions != nil {
		rule.Actions = req.Actions
	}

	if req.ExecutionConfig != nil {
		rule.ExecutionConfig = *req.ExecutionConfig
	}

	if req.RetryConfig != nil {
		rule.RetryConfig = *req.RetryConfig
	}

	if req.TimeoutConfig != nil {
		rule.TimeoutConfig = *req.TimeoutConfig
	}

	if req.Schedule != nil {
		rule.Schedule = req.Schedule
	}

	if req.Permissions != nil {
		rule.Permissions = *req.Permissions
	}
}

func (h *APIHandlers) DeleteRule(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	if err := h.ruleService.Delete(c.Context(), actor, id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ActivateRule(c fiber.Ctx) error {
	return h.transitionRule(c, h.ruleService.Activate)
}

func (h *APIHandlers) DeactivateRule(c fiber.Ctx) error {
	return h.transitionRule(c, h.ruleService.Deactivate)
}

func (h *APIHandlers) PauseRule(c fiber.Ctx) error {
	return h.transitionRule(c, h.ruleService.Pause)
}

func (h *APIHandlers) ResumeRule(c fiber.Ctx) error {
	return h.transitionRule(c, h.ruleService.Resume)
}

func (h *APIHandlers) transitionRule(
	c fiber.Ctx,
	transition func(ctx context.Context, actor permissions.Actor, ruleID string) (*models.Rule, error),
) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	rule, err := transition(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) ExecuteRule(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	var req ExecuteRuleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.executionService.Execute(c.Context(), actor, id, services.ExecuteRequest{
		InputData: req.InputData,
		DryRun:    req.DryRun,
		Async:     req.Async,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if req.Async && !req.DryRun {
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(execution)
}

func (h *APIHandlers) ListRuleExecutions(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Rule ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		limit = parsed
	}

	executions, err := h.executionService.List(c.Context(), actor, id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"count":      len(executions),
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Get(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.executionService.Cancel(c.Context(), actor, id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return badRequest(c, "Actor identity is required")
	}

	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Retry(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

// ListComponents exposes the registered evaluator and action types together
// with their configuration schemas.
func (h *APIHandlers) ListComponents(c fiber.Ctx) error {
	evaluators := make([]fiber.Map, 0)

	for _, evaluatorType := range h.registry.AvailableEvaluators() {
		schema, _ := h.registry.EvaluatorSchema(evaluatorType)
		evaluators = append(evaluators, fiber.Map{
			"type":   evaluatorType,
			"schema": schema,
		})
	}

	actions := make([]fiber.Map, 0)

	for _, actionType := range h.registry.AvailableActions() {
		schema, _ := h.registry.ActionSchema(actionType)
		actions = append(actions, fiber.Map{
			"type":   actionType,
			"schema": schema,
		})
	}

	return c.JSON(fiber.Map{
		"evaluators": evaluators,
		"actions":    actions,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.ruleService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Sentinel API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Sentinel API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
