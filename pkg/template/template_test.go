package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitutePaths(t *testing.T) {
	data := map[string]any{
		"trace": map[string]any{
			"name":  "checkout",
			"spans": []any{map[string]any{"name": "db"}},
		},
		"score": 0.87,
	}

	out := SubstitutePaths("Evaluate {trace.name} with score {score}", data)
	assert.Equal(t, "Evaluate checkout with score 0.87", out)
}

func TestSubstitutePaths_JSONValues(t *testing.T) {
	data := map[string]any{"trace": map[string]any{"name": "checkout"}}

	out := SubstitutePaths("Input: {trace}", data)
	assert.Equal(t, `Input: {"name":"checkout"}`, out)
}

func TestSubstitutePaths_MissingLeftIntact(t *testing.T) {
	out := SubstitutePaths("Value is {missing.path}", map[string]any{})
	assert.Equal(t, "Value is {missing.path}", out)
}

func TestRender_Coercion(t *testing.T) {
	num, err := Render("{{ .count }}", map[string]any{"count": 42})
	require.NoError(t, err)
	assert.Equal(t, 42.0, num)

	b, err := Render("{{ .flag }}", map[string]any{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, true, b)

	obj, err := Render(`{"a": {{ .count }}}`, map[string]any{"count": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, obj)

	str, err := Render("plain {{ .word }}", map[string]any{"word": "text"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", str)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{ .broken", nil)
	assert.Error(t, err)
}
