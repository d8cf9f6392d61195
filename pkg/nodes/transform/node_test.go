package transform

import (
	"context"
	"testing"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformNode_Execute(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      map[string]any
		want       any
	}{
		{
			name:       "field access",
			expression: ".fetch.price",
			input:      map[string]any{"fetch": map[string]any{"price": 10}},
			want:       float64(10),
		},
		{
			name:       "object construction",
			expression: "{total: ([.items[].amount] | add)}",
			input: map[string]any{"items": []any{
				map[string]any{"amount": 1.5},
				map[string]any{"amount": 2.5},
			}},
			want: map[string]any{"total": float64(4)},
		},
		{
			name:       "multiple results become a list",
			expression: ".values[]",
			input:      map[string]any{"values": []any{"a", "b"}},
			want:       []any{"a", "b"},
		},
		{
			name:       "no result",
			expression: "empty",
			input:      nil,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := NewTransformNodeFactory().Create(map[string]any{"expression": tt.expression})
			require.NoError(t, err)

			output, err := node.Execute(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, output["result"])
		})
	}
}

func TestTransformNode_Errors(t *testing.T) {
	_, err := NewTransformNode(map[string]any{})
	assert.True(t, blockruntime.IsValidation(err))

	_, err = NewTransformNode(map[string]any{"expression": ".["})
	assert.True(t, blockruntime.IsValidation(err))

	node, err := NewTransformNode(map[string]any{"expression": `error("bad price")`})
	require.NoError(t, err)

	_, err = node.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, blockruntime.IsTransient(err))
	assert.Contains(t, err.Error(), "bad price")
}
