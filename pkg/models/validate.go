package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidRule is wrapped by every rule validation failure.
	ErrInvalidRule = errors.New("invalid rule definition")

	// ErrDependencyCycle is returned when evaluator dependencies form a cycle.
	ErrDependencyCycle = errors.New("evaluator dependency cycle")
)

var ruleValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the rule's structure: tagged field constraints, component
// id uniqueness, dependency resolution and dependency acyclicity. Expression
// conditions are compiled separately by the condition evaluator.
func (r *Rule) Validate() error {
	if err := ruleValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	if len(r.Evaluators) == 0 && len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule needs at least one evaluator or action", ErrInvalidRule)
	}

	seen := make(map[string]bool, len(r.Evaluators)+len(r.Actions))

	for _, ev := range r.Evaluators {
		if seen[ev.ID] {
			return fmt.Errorf("%w: duplicate component id %q", ErrInvalidRule, ev.ID)
		}

		seen[ev.ID] = true
	}

	for _, act := range r.Actions {
		if seen[act.ID] {
			return fmt.Errorf("%w: duplicate component id %q", ErrInvalidRule, act.ID)
		}

		seen[act.ID] = true

		for _, cond := range act.ExecuteWhen {
			if _, ok := r.evaluatorByID(cond.EvaluatorID); !ok {
				return fmt.Errorf("%w: action %q references unknown evaluator %q",
					ErrInvalidRule, act.ID, cond.EvaluatorID)
			}
		}
	}

	for _, ev := range r.Evaluators {
		for _, dep := range ev.DependsOn {
			if _, ok := r.evaluatorByID(dep); !ok {
				return fmt.Errorf("%w: evaluator %q depends on unknown evaluator %q",
					ErrInvalidRule, ev.ID, dep)
			}
		}
	}

	if _, err := r.EvaluatorLevels(); err != nil {
		return err
	}

	if r.Schedule != nil {
		if err := r.Schedule.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// EvaluatorLevels groups the rule's evaluators into dependency levels using
// Kahn's algorithm. Evaluators within one level have no dependency relation
// and may run concurrently; a level only starts after the previous one
// completed. Returns ErrDependencyCycle when the dependsOn edges contain a
// cycle.
func (r *Rule) EvaluatorLevels() ([][]Evaluator, error) {
	inDegree := make(map[string]int, len(r.Evaluators))
	dependents := make(map[string][]string)

	for _, ev := range r.Evaluators {
		inDegree[ev.ID] += 0

		for _, dep := range ev.DependsOn {
			inDegree[ev.ID]++
			dependents[dep] = append(dependents[dep], ev.ID)
		}
	}

	// Queue in declared order so level ordering is deterministic.
	var queue []string

	for _, ev := range r.Evaluators {
		if inDegree[ev.ID] == 0 {
			queue = append(queue, ev.ID)
		}
	}

	var levels [][]Evaluator

	visited := 0

	for len(queue) > 0 {
		level := make([]Evaluator, 0, len(queue))

		for _, id := range queue {
			ev, _ := r.evaluatorByID(id)
			level = append(level, *ev)
		}

		levels = append(levels, level)
		visited += len(queue)

		var next []string

		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}

		queue = next
	}

	if visited != len(r.Evaluators) {
		return nil, fmt.Errorf("%w: resolved %d of %d evaluators",
			ErrDependencyCycle, visited, len(r.Evaluators))
	}

	return levels, nil
}
