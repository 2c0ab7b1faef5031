// Package registry holds the evaluator and action factories and validates
// component configurations against each factory's schema before creation.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
)

type Registry struct {
	logger             *slog.Logger
	evaluatorFactories map[models.EvaluatorType]protocol.EvaluatorFactory
	actionFactories    map[models.ActionType]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:             log,
		evaluatorFactories: make(map[models.EvaluatorType]protocol.EvaluatorFactory),
		actionFactories:    make(map[models.ActionType]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterEvaluator(factory protocol.EvaluatorFactory) {
	r.evaluatorFactories[factory.ID()] = factory
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// HealthCheck reports whether the registry holds at least one evaluator and
// one action factory.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.evaluatorFactories) == 0 || len(r.actionFactories) == 0 {
		return "no component factories registered", false
	}

	return fmt.Sprintf("%d evaluator and %d action factories registered",
		len(r.evaluatorFactories), len(r.actionFactories)), true
}

// CreateEvaluator validates the configuration against the factory schema and
// builds the evaluator.
func (r *Registry) CreateEvaluator(evaluatorType models.EvaluatorType, config map[string]any) (protocol.Evaluator, error) {
	factory, ok := r.evaluatorFactories[evaluatorType]
	if !ok {
		return nil, fmt.Errorf("evaluator type '%s' not registered", evaluatorType)
	}

	if err := validateConfig(factory.Schema(), config); err != nil {
		return nil, fmt.Errorf("evaluator '%s' configuration: %w", evaluatorType, err)
	}

	return factory.Create(config)
}

// CreateAction validates the configuration against the factory schema and
// builds the action.
func (r *Registry) CreateAction(actionType models.ActionType, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	if err := validateConfig(factory.Schema(), config); err != nil {
		return nil, fmt.Errorf("action '%s' configuration: %w", actionType, err)
	}

	return factory.Create(config)
}

// AvailableEvaluators returns the registered evaluator types.
func (r *Registry) AvailableEvaluators() []models.EvaluatorType {
	types := make([]models.EvaluatorType, 0, len(r.evaluatorFactories))
	for evaluatorType := range r.evaluatorFactories {
		types = append(types, evaluatorType)
	}

	return types
}

// AvailableActions returns the registered action types.
func (r *Registry) AvailableActions() []models.ActionType {
	types := make([]models.ActionType, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}

// EvaluatorSchema returns the configuration schema of a registered
// evaluator type.
func (r *Registry) EvaluatorSchema(evaluatorType models.EvaluatorType) (map[string]any, bool) {
	factory, ok := r.evaluatorFactories[evaluatorType]
	if !ok {
		return nil, false
	}

	return factory.Schema(), true
}

// ActionSchema returns the configuration schema of a registered action type.
func (r *Registry) ActionSchema(actionType models.ActionType) (map[string]any, bool) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, false
	}

	return factory.Schema(), true
}

// ValidateRuleComponents checks that every evaluator and action of the rule
// has a registered factory and a schema-valid configuration, without
// instantiating anything.
func (r *Registry) ValidateRuleComponents(rule *models.Rule) error {
	for _, evaluator := range rule.Evaluators {
		factory, ok := r.evaluatorFactories[evaluator.Type]
		if !ok {
			return fmt.Errorf("evaluator '%s': type '%s' not registered", evaluator.ID, evaluator.Type)
		}

		if err := validateConfig(factory.Schema(), evaluator.Config); err != nil {
			return fmt.Errorf("evaluator '%s' configuration: %w", evaluator.ID, err)
		}
	}

	for _, action := range rule.Actions {
		factory, ok := r.actionFactories[action.Type]
		if !ok {
			return fmt.Errorf("action '%s': type '%s' not registered", action.ID, action.Type)
		}

		if err := validateConfig(factory.Schema(), action.Config); err != nil {
			return fmt.Errorf("action '%s' configuration: %w", action.ID, err)
		}
	}

	return nil
}

func validateConfig(schema map[string]any, config map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
}
