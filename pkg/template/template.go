// Package template renders dynamic strings for prompts and action payloads.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tracewatch/sentinel/pkg/fieldpath"
)

// pathPlaceholder matches {dotted.path} placeholders in prompt templates.
var pathPlaceholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\}`)

// SubstitutePaths replaces every {dotted.path} placeholder with the value
// resolved from data. Objects and arrays render as compact JSON; unresolved
// placeholders are left intact so the model sees what was missing.
func SubstitutePaths(input string, data map[string]any) string {
	return pathPlaceholder.ReplaceAllStringFunc(input, func(match string) string {
		path := match[1 : len(match)-1]

		value, ok := fieldpath.Lookup(data, path)
		if !ok {
			return match
		}

		switch v := value.(type) {
		case string:
			return v
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				return match
			}

			return string(encoded)
		default:
			return fmt.Sprintf("%v", v)
		}
	})
}

// Render executes a Go text/template against data and coerces the result:
// JSON-looking output parses into structured data, then number, then bool,
// finally the raw string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("render").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
