package scriptmetric

import (
	"fmt"
	"strings"
)

// SecurityValidationError reports a denylist violation found during script
// validation. It is a hard failure, never a warning.
type SecurityValidationError struct {
	ScriptPath string
	Pattern    string
}

func (e *SecurityValidationError) Error() string {
	return fmt.Sprintf("script %s rejected: matches restricted pattern %q", e.ScriptPath, e.Pattern)
}

// defaultDenylist covers operations a sandboxed metric script has no
// business performing.
var defaultDenylist = []string{
	"import os",
	"import sys",
	"import subprocess",
	"import socket",
	"import shutil",
	"from os",
	"from subprocess",
	"from socket",
	"os.system",
	"subprocess.",
	"eval(",
	"exec(",
	"__import__",
	"shutil.rmtree",
}

// validateSecurity scans the script source against the built-in denylist
// plus the configured restricted imports.
func validateSecurity(scriptPath string, source []byte, restricted []string) error {
	text := string(source)

	patterns := make([]string, 0, len(defaultDenylist)+len(restricted)*2)
	patterns = append(patterns, defaultDenylist...)

	for _, name := range restricted {
		patterns = append(patterns, "import "+name, "from "+name)
	}

	for _, pattern := range patterns {
		if strings.Contains(text, pattern) {
			return &SecurityValidationError{ScriptPath: scriptPath, Pattern: pattern}
		}
	}

	return nil
}

// validateFunctionExport checks the script actually declares the configured
// function, before any subprocess is spawned.
func validateFunctionExport(source []byte, functionName string) error {
	text := string(source)

	declarations := []string{
		"def " + functionName + "(",
		"function " + functionName + "(",
		"func " + functionName + "(",
	}

	for _, decl := range declarations {
		if strings.Contains(text, decl) {
			return nil
		}
	}

	return fmt.Errorf("script does not declare function %q", functionName)
}
