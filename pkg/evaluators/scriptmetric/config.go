// Package scriptmetric implements the sandboxed script evaluator: security
// validation, out-of-process execution and result mapping.
package scriptmetric

import (
	"errors"
	"fmt"
	"time"

	"github.com/tracewatch/sentinel/pkg/protocol"
	"github.com/tracewatch/sentinel/pkg/sandbox"
)

var ErrConfigInvalid = errors.New("invalid script_metric configuration")

// Config is the script_metric evaluator configuration. The script receives
// the function name and the input file path as arguments and must print a
// JSON object {"success": bool, "result": ..., "error": "..."} on stdout.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	ScriptPath   string `json:"script_path"`
	FunctionName string `json:"function_name"`

	// Interpreter is the binary the script runs under.
	Interpreter string `json:"interpreter,omitempty"`

	// InputMapping re-maps dotted input paths onto flat keys in the input
	// file. Empty means the raw input data is passed through.
	InputMapping map[string]string `json:"input_mapping,omitempty"`

	// OutputMapping re-maps dotted paths of the script result onto flat
	// keys in the evaluator value.
	OutputMapping map[string]string `json:"output_mapping,omitempty"`

	// RestrictedImports extends the built-in denylist. A script matching
	// any entry fails security validation.
	RestrictedImports []string `json:"restricted_imports,omitempty"`

	TimeoutMS     int64 `json:"timeout_ms,omitempty"`
	MemoryLimitMB int64 `json:"memory_limit_mb,omitempty"`

	// Sandboxed copies the script into an isolated scratch directory and
	// applies security validation before execution.
	Sandboxed bool `json:"sandboxed,omitempty"`
}

func parseConfig(config map[string]any) (*Config, error) {
	var cfg Config

	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if cfg.ScriptPath == "" {
		return nil, fmt.Errorf("%w: script_path is required", ErrConfigInvalid)
	}

	if cfg.FunctionName == "" {
		return nil, fmt.Errorf("%w: function_name is required", ErrConfigInvalid)
	}

	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}

	return &cfg, nil
}

func (c *Config) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return sandbox.DefaultTimeout
	}

	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *Config) memoryLimit() int64 {
	if c.MemoryLimitMB <= 0 {
		return sandbox.DefaultMemoryLimit
	}

	return c.MemoryLimitMB * 1024 * 1024
}
