package transform

import (
	"github.com/dukex/flowrun/pkg/blockruntime"
)

// TransformNodeFactory creates TransformNode instances.
type TransformNodeFactory struct{}

// NewTransformNodeFactory creates a new factory instance.
func NewTransformNodeFactory() *TransformNodeFactory {
	return &TransformNodeFactory{}
}

// Create creates a new TransformNode instance.
func (f *TransformNodeFactory) Create(config map[string]any) (blockruntime.Block, error) {
	return NewTransformNode(config)
}

// ID returns the factory ID.
func (f *TransformNodeFactory) ID() string {
	return "transform"
}

// Name returns the factory name.
func (f *TransformNodeFactory) Name() string {
	return "Transform"
}

// Description returns the factory description.
func (f *TransformNodeFactory) Description() string {
	return "Reshapes the node input with a jq expression"
}

// Schema returns the JSON schema for Transform node configuration.
func (f *TransformNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "jq expression evaluated against the merged upstream outputs",
				"examples":    []string{".fetch.body.price", "{total: ([.items[].amount] | add)}"},
			},
		},
		"required": []string{"expression"},
	}
}
