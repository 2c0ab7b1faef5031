// Package actions provides the built-in action implementations and shared
// helpers for rendering action payloads.
package actions

import "github.com/tracewatch/sentinel/pkg/protocol"

// TemplateData exposes the execution state to action templates: input data
// under "input", evaluator values under "results" and execution identity
// under "execution".
func TemplateData(execCtx protocol.ExecutionContext) map[string]any {
	return map[string]any{
		"input":   execCtx.InputData,
		"results": execCtx.ResultValues(),
		"execution": map[string]any{
			"id":           execCtx.ExecutionID,
			"rule_id":      execCtx.RuleID,
			"rule_name":    execCtx.RuleName,
			"workspace_id": execCtx.WorkspaceID,
			"triggered_by": execCtx.TriggeredBy,
		},
	}
}
