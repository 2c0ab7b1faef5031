// Package config provides loading of declarative rule files.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tracewatch/sentinel/pkg/models"
)

// RuleFile is the parsed form of a rules.yaml file. It lets deployments
// provision rules at startup instead of through the API.
type RuleFile struct {
	WorkspaceID string         `yaml:"workspace_id"`
	ProjectID   string         `yaml:"project_id"`
	Rules       []*models.Rule `yaml:"-"`
}

type ruleFileDocument struct {
	WorkspaceID string           `yaml:"workspace_id"`
	ProjectID   string           `yaml:"project_id"`
	Rules       []map[string]any `yaml:"rules"`
}

// LoadRuleFile reads and validates a declarative rule file. File-level
// workspace and project ids fill in rules that do not set their own.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}

	var doc ruleFileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	file := &RuleFile{
		WorkspaceID: doc.WorkspaceID,
		ProjectID:   doc.ProjectID,
		Rules:       make([]*models.Rule, 0, len(doc.Rules)),
	}

	for i, raw := range doc.Rules {
		rule, err := decodeRule(raw)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}

		if rule.WorkspaceID == "" {
			rule.WorkspaceID = doc.WorkspaceID
		}

		if rule.ProjectID == "" {
			rule.ProjectID = doc.ProjectID
		}

		if rule.Status == "" {
			rule.Status = models.RuleStatusDraft
		}

		if rule.Priority == 0 {
			rule.Priority = 5
		}

		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rules[%d] (%s): %w", i, rule.Name, err)
		}

		file.Rules = append(file.Rules, rule)
	}

	return file, nil
}

// decodeRule converts one YAML rule entry through its JSON form so the rule
// model's field names and types apply unchanged.
func decodeRule(raw map[string]any) (*models.Rule, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule entry: %w", err)
	}

	var rule models.Rule
	if err := json.Unmarshal(encoded, &rule); err != nil {
		return nil, fmt.Errorf("failed to decode rule entry: %w", err)
	}

	return &rule, nil
}
