package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeConfig maps a JSON-shaped configuration into a typed config struct.
// Unknown keys are rejected so typos surface at rule-validation time instead
// of silently configuring nothing.
func DecodeConfig(config map[string]any, out any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	return nil
}
