// Package fieldpath resolves dot-separated paths into JSON-shaped data.
package fieldpath

import (
	"strconv"
	"strings"
)

// Lookup resolves a dot path like "trace.spans.0.name" against nested
// map[string]any / []any data. The second return is false when any segment
// is missing or the path descends into a scalar.
func Lookup(data any, path string) (any, bool) {
	if path == "" {
		return data, data != nil
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Flatten maps a set of source paths onto target keys, skipping paths that
// do not resolve. Used for evaluator input re-mapping.
func Flatten(data map[string]any, mapping map[string]string) map[string]any {
	out := make(map[string]any, len(mapping))

	for path, target := range mapping {
		if value, ok := Lookup(data, path); ok {
			out[target] = value
		}
	}

	return out
}
