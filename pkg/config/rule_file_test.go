package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewatch/sentinel/pkg/config"
	"github.com/tracewatch/sentinel/pkg/models"
)

func writeRuleFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadRuleFile(t *testing.T) {
	t.Parallel()

	path := writeRuleFile(t, `
workspace_id: ws-1
project_id: proj-1
rules:
  - name: Low score alert
    type: quality_check
    trigger: schedule
    status: active
    evaluators:
      - id: quality
        name: Quality
        type: api_call
        config:
          url: http://scores.internal/check
    actions:
      - id: notify
        name: Notify
        type: notification
        config:
          message: "score dropped below 0.5"
        execute_when:
          - evaluator_id: quality
            field_path: value
            operator: less_than
            value: 0.5
    schedule:
      kind: cron
      cron_expression: "*/5 * * * *"
  - name: Nightly export
    workspace_id: ws-2
    type: workflow
    trigger: schedule
    actions:
      - id: export
        name: Export
        type: export
        config:
          destination: s3://bucket/results
`)

	file, err := config.LoadRuleFile(path)
	require.NoError(t, err)
	require.Len(t, file.Rules, 2)

	first := file.Rules[0]
	assert.Equal(t, "Low score alert", first.Name)
	assert.Equal(t, "ws-1", first.WorkspaceID)
	assert.Equal(t, "proj-1", first.ProjectID)
	assert.Equal(t, models.RuleStatusActive, first.Status)
	assert.Equal(t, 5, first.Priority)
	require.Len(t, first.Actions, 1)
	require.Len(t, first.Actions[0].ExecuteWhen, 1)
	assert.Equal(t, "quality", first.Actions[0].ExecuteWhen[0].EvaluatorID)
	require.NotNil(t, first.Schedule)
	assert.Equal(t, "*/5 * * * *", first.Schedule.CronExpression)

	second := file.Rules[1]
	assert.Equal(t, "ws-2", second.WorkspaceID)
	assert.Equal(t, models.RuleStatusDraft, second.Status)
}

func TestLoadRuleFile_InvalidRuleRejected(t *testing.T) {
	t.Parallel()

	path := writeRuleFile(t, `
workspace_id: ws-1
rules:
  - name: Broken
    type: quality_check
    trigger: manual
    actions:
      - id: notify
        name: Notify
        type: notification
        execute_when:
          - evaluator_id: missing
            field_path: value
            operator: greater_than
            value: 0.5
`)

	_, err := config.LoadRuleFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown evaluator")
}

func TestLoadRuleFile_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadRuleFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRuleFile_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := writeRuleFile(t, "rules: [\n")

	_, err := config.LoadRuleFile(path)
	require.Error(t, err)
}
