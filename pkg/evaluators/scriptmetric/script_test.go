package scriptmetric

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracewatch/sentinel/pkg/models"
	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metric.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))

	return path
}

func runMetric(t *testing.T, config map[string]any, input map[string]any) *models.EvaluatorResult {
	t.Helper()

	metric, err := NewMetric(config, sandbox.NewRunner(testLogger()))
	require.NoError(t, err)

	result, err := metric.Run(context.Background(), protocol.ExecutionContext{InputData: input}, testLogger())
	require.NoError(t, err)
	require.NotNil(t, result)

	return result
}

func TestMetric_Success(t *testing.T) {
	// compute receives the function name and input file as arguments.
	script := writeScript(t, `#!/bin/sh
# function compute(input)
echo '{"success": true, "result": {"score": 0.9}}'
`)

	result := runMetric(t, map[string]any{
		"id":            "latency-check",
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
	}, map[string]any{"trace": map[string]any{"duration_ms": 120}})

	assert.Equal(t, models.ComponentStatusCompleted, result.Status)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.9, value["score"], 1e-9)
	assert.GreaterOrEqual(t, result.DurationMS, int64(0))
	assert.False(t, result.CompletedAt.IsZero())
}

func TestMetric_InputFileReceivesMappedData(t *testing.T) {
	// Echo the input file back as the result.
	script := writeScript(t, `#!/bin/sh
# function compute(input)
printf '{"success": true, "result": %s}' "$(cat "$2")"
`)

	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
		"input_mapping": map[string]any{"trace.duration_ms": "duration"},
	}, map[string]any{"trace": map[string]any{"duration_ms": 120.0}})

	require.Equal(t, models.ComponentStatusCompleted, result.Status)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 120.0, value["duration"], 1e-9)
	assert.NotContains(t, value, "trace")
}

func TestMetric_OutputMapping(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
echo '{"success": true, "result": {"metrics": {"p95": 340}, "noise": "x"}}'
`)

	result := runMetric(t, map[string]any{
		"script_path":    script,
		"function_name":  "compute",
		"interpreter":    "/bin/sh",
		"output_mapping": map[string]any{"metrics.p95": "p95"},
	}, nil)

	require.Equal(t, models.ComponentStatusCompleted, result.Status)

	value, ok := result.Value.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 340.0, value["p95"], 1e-9)
	assert.NotContains(t, value, "noise")
}

func TestMetric_MissingFunctionFailsBeforeExecution(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
echo '{"success": true, "result": 1}'
`)

	// A broken interpreter proves no subprocess was attempted.
	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/nonexistent/interpreter",
	}, nil)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "does not declare function")
}

func TestMetric_SecurityDenylist(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		restricted []any
		pattern    string
	}{
		{
			name:    "builtin pattern",
			body:    "# function compute(input)\nimport os\n",
			pattern: "import os",
		},
		{
			name:       "configured restricted import",
			body:       "# function compute(input)\nimport requests\n",
			restricted: []any{"requests"},
			pattern:    "import requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.body)

			result := runMetric(t, map[string]any{
				"script_path":        script,
				"function_name":      "compute",
				"interpreter":        "/bin/sh",
				"sandboxed":          true,
				"restricted_imports": tt.restricted,
			}, nil)

			assert.Equal(t, models.ComponentStatusFailed, result.Status)
			assert.Contains(t, result.Error, tt.pattern)
		})
	}
}

func TestMetric_SecuritySkippedWhenNotSandboxed(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
# import os would be rejected in a sandbox
echo '{"success": true, "result": 1}'
`)

	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
	}, nil)

	assert.Equal(t, models.ComponentStatusCompleted, result.Status)
}

func TestMetric_TimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
sleep 5
echo '{"success": true, "result": 1}'
`)

	var kills atomic.Int64

	runner := sandbox.NewRunner(testLogger()).WithKillFunc(func(pid int) error {
		kills.Add(1)

		return syscall.Kill(-pid, syscall.SIGKILL)
	})

	metric, err := NewMetric(map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
		"timeout_ms":    100,
	}, runner)
	require.NoError(t, err)

	result, err := metric.Run(context.Background(), protocol.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "timeout")
	assert.Positive(t, kills.Load())
}

func TestMetric_ScriptReportedFailure(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
echo '{"success": false, "error": "division by zero"}'
`)

	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
	}, nil)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "division by zero")
}

func TestMetric_NonZeroExitCapturesStderr(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
echo "stack trace here" >&2
exit 3
`)

	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
	}, nil)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "stack trace here")
}

func TestMetric_UnparseableOutput(t *testing.T) {
	script := writeScript(t, `#!/bin/sh
# function compute(input)
echo "plain text, not json"
`)

	result := runMetric(t, map[string]any{
		"script_path":   script,
		"function_name": "compute",
		"interpreter":   "/bin/sh",
	}, nil)

	assert.Equal(t, models.ComponentStatusFailed, result.Status)
	assert.Contains(t, result.Error, "unparseable")
}

func TestMetric_ConfigValidation(t *testing.T) {
	runner := sandbox.NewRunner(testLogger())

	_, err := NewMetric(map[string]any{"function_name": "compute"}, runner)
	require.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewMetric(map[string]any{"script_path": "/tmp/x.sh"}, runner)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestFactory(t *testing.T) {
	factory := NewFactory(sandbox.NewRunner(testLogger()))

	assert.Equal(t, models.EvaluatorTypeScriptMetric, factory.ID())
	assert.NotEmpty(t, factory.Schema())

	evaluator, err := factory.Create(map[string]any{
		"script_path":   "/tmp/metric.sh",
		"function_name": "compute",
	})
	require.NoError(t, err)
	assert.NotNil(t, evaluator)
}
