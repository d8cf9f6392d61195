// Package transform provides the jq data transformation block.
package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/itchyny/gojq"
)

// TransformNode evaluates a jq expression against the node input.
type TransformNode struct {
	expression string
	code       *gojq.Code
}

// NewTransformNode compiles the configured expression.
func NewTransformNode(config map[string]any) (*TransformNode, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, blockruntime.Validationf("missing required field 'expression'")
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, blockruntime.Validationf("jq parse error in %q: %w", expression, err)
	}

	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, blockruntime.Validationf("jq compile error in %q: %w", expression, err)
	}

	return &TransformNode{expression: expression, code: code}, nil
}

// Execute runs the expression. A single result is returned as-is under "result"; multiple
// results are collected into a list.
func (n *TransformNode) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	data, err := normalize(input)
	if err != nil {
		return nil, blockruntime.Validation(err)
	}

	iter := n.code.RunWithContext(ctx, data)

	var results []any

	for {
		value, ok := iter.Next()
		if !ok {
			break
		}

		if err, isErr := value.(error); isErr {
			return nil, blockruntime.Permanent(fmt.Errorf("jq evaluation failed for %q: %w", n.expression, err))
		}

		results = append(results, value)
	}

	var result any

	switch len(results) {
	case 0:
	case 1:
		result = results[0]
	default:
		result = results
	}

	return map[string]any{"result": result}, nil
}

// normalize converts the input into the JSON value types jq operates on.
func normalize(input map[string]any) (any, error) {
	if input == nil {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	var data any

	err = json.Unmarshal(raw, &data)
	if err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	return data, nil
}
