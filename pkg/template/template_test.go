package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	data := map[string]any{
		"fetch": map[string]any{
			"status": 200,
			"items":  []any{"a", "b"},
		},
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "plain string", template: "no placeholders", want: "no placeholders"},
		{name: "nested field", template: "status {{ .fetch.status }}", want: "status 200"},
		{name: "function", template: "{{ len .fetch.items }} items", want: "2 items"},
		{name: "missing key", template: "[{{ .other.value }}]", want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_ErrorHandling(t *testing.T) {
	_, err := Render("{{ .name", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")

	_, err = Render("{{ len .count }}", map[string]any{"count": 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute template")
}

func TestRender_Now(t *testing.T) {
	got, err := Render("{{ now }}", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestNeedsTemplating(t *testing.T) {
	assert.True(t, NeedsTemplating("hello {{ .name }}"))
	assert.False(t, NeedsTemplating("hello"))
}
