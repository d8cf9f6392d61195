// Package blockruntime defines the boundary between the execution engine and block business logic.
package blockruntime

import (
	"context"
)

// Request is one invocation of a block for a node of an execution.
type Request struct {
	ExecutionID string
	NodeID      string
	Type        string
	Config      map[string]any
	// Input is the node input merged from upstream outputs, keyed by connection port.
	Input map[string]any
}

// Result is what a block produced.
type Result struct {
	Output map[string]any
}

// Runtime executes blocks. Returned errors should be classified with Transient, Permanent or
// Validation; unclassified errors are handled by IsTransient.
type Runtime interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, request Request) (Result, error)

// Execute calls f.
func (f RuntimeFunc) Execute(ctx context.Context, request Request) (Result, error) {
	return f(ctx, request)
}
