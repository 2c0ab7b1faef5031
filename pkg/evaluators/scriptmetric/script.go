package scriptmetric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tracewatch/sentinel/pkg/fieldpath"
	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/sandbox"
)

// scriptOutput is the contract a metric script must honor on stdout.
type scriptOutput struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

// Metric runs a script function out of process and maps its result into an
// evaluator value.
type Metric struct {
	config *Config
	runner *sandbox.Runner
}

func NewMetric(config map[string]any, runner *sandbox.Runner) (*Metric, error) {
	cfg, err := parseConfig(config)
	if err != nil {
		return nil, err
	}

	return &Metric{config: cfg, runner: runner}, nil
}

// Run validates the script, executes it with the mapped input and parses the
// stdout contract. Script failures become a failed result, not a Go error.
func (m *Metric) Run(ctx context.Context, execCtx protocol.ExecutionContext, logger *slog.Logger) (*models.EvaluatorResult, error) {
	logger = logger.With("module", "script_metric", "evaluator_id", m.config.ID, "script", m.config.ScriptPath)

	result := &models.EvaluatorResult{
		EvaluatorID: m.config.ID,
		Name:        m.config.Name,
		StartedAt:   time.Now().UTC(),
	}
	defer finishResult(result)

	source, err := os.ReadFile(m.config.ScriptPath)
	if err != nil {
		failWith(result, fmt.Errorf("read script: %w", err))

		return result, nil
	}

	if err := validateFunctionExport(source, m.config.FunctionName); err != nil {
		failWith(result, err)

		return result, nil
	}

	if m.config.Sandboxed {
		if err := validateSecurity(m.config.ScriptPath, source, m.config.RestrictedImports); err != nil {
			failWith(result, err)
			logger.Warn("script failed security validation", "error", err)

			return result, nil
		}
	}

	workspace, err := sandbox.NewWorkspace("scriptmetric-")
	if err != nil {
		failWith(result, err)

		return result, nil
	}
	defer workspace.Cleanup()

	inputPath, err := m.writeInput(workspace, execCtx.InputData)
	if err != nil {
		failWith(result, err)

		return result, nil
	}

	scriptPath := m.config.ScriptPath

	if m.config.Sandboxed {
		scriptPath, err = workspace.WriteFile(filepath.Base(m.config.ScriptPath), source)
		if err != nil {
			failWith(result, err)

			return result, nil
		}
	}

	run, runErr := m.runner.Run(ctx, sandbox.Command{
		Binary:           m.config.Interpreter,
		Args:             []string{scriptPath, m.config.FunctionName, inputPath},
		Dir:              workspace.Root,
		Timeout:          m.config.timeout(),
		MemoryLimitBytes: m.config.memoryLimit(),
	})

	if run != nil && run.Killed {
		failWith(result, fmt.Errorf("script killed: %s", run.KillReason))
		logger.Warn("script killed", "reason", run.KillReason, "duration", run.Duration)

		return result, nil
	}

	if runErr != nil {
		message := runErr.Error()
		if run != nil && len(run.Stderr) > 0 {
			message = strings.TrimSpace(string(run.Stderr))
		}

		failWith(result, fmt.Errorf("script failed: %s", message))

		return result, nil
	}

	m.parseOutput(run.Stdout, result)

	return result, nil
}

// writeInput places the (optionally re-mapped) input data as JSON inside the
// workspace.
func (m *Metric) writeInput(workspace *sandbox.Workspace, input map[string]any) (string, error) {
	payload := input
	if len(m.config.InputMapping) > 0 {
		payload = fieldpath.Flatten(input, m.config.InputMapping)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}

	return workspace.WriteFile("input.json", data)
}

func (m *Metric) parseOutput(stdout []byte, result *models.EvaluatorResult) {
	var output scriptOutput

	if err := json.Unmarshal(stdout, &output); err != nil {
		failWith(result, fmt.Errorf("unparseable script output: %v", err))

		return
	}

	if !output.Success {
		message := output.Error
		if message == "" {
			message = "script reported failure"
		}

		failWith(result, fmt.Errorf("%s", message))

		return
	}

	value := output.Result

	if len(m.config.OutputMapping) > 0 {
		if obj, ok := value.(map[string]any); ok {
			value = fieldpath.Flatten(obj, m.config.OutputMapping)
		}
	}

	result.Status = models.ComponentStatusCompleted
	result.Value = value
}

func failWith(result *models.EvaluatorResult, err error) {
	result.Status = models.ComponentStatusFailed
	result.Error = err.Error()
}

func finishResult(result *models.EvaluatorResult) {
	result.CompletedAt = time.Now().UTC()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
}
