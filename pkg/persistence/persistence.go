// Package persistence provides the storage abstraction for executions and node executions.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

// Persistence is the Execution Store: the single source of truth for execution state.
type Persistence interface {
	ExecutionRepository() ExecutionRepository
	NodeExecutionRepository() NodeExecutionRepository
	ExecutionReader() ExecutionReader

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository manages Execution rows.
type ExecutionRepository interface {
	// CreateExecution inserts a new execution. Returns ErrExecutionAlreadyExists on id reuse.
	CreateExecution(ctx context.Context, execution *models.Execution) error

	// GetExecution returns the execution or ErrExecutionNotFound.
	GetExecution(ctx context.Context, executionID string) (*models.Execution, error)

	// TransitionExecution applies the transition only if the current status is one of
	// transition.From, returning the updated row. Returns ErrInvalidTransition when the row
	// exists but is in another status, ErrExecutionNotFound when it does not exist.
	TransitionExecution(ctx context.Context, transition models.ExecutionTransition) (*models.Execution, error)
}

// NodeExecutionRepository manages NodeExecution rows. There is at most one row per
// (execution_id, node_id).
type NodeExecutionRepository interface {
	// SaveNodeExecution inserts or replaces the row for (ExecutionID, NodeID).
	SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error

	// NodeExecutions lists the rows of an execution in creation order.
	NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error)
}

// ExecutionReader provides the read-only scans used by analytics.
type ExecutionReader interface {
	// ExecutionsSince returns executions of a workflow started at or after since.
	ExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error)

	// NodeExecutionsSince returns node executions belonging to executions of a workflow
	// started at or after since.
	NodeExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.NodeExecution, error)
}

// WorkflowRepository loads workflow graphs owned by the editor.
type WorkflowRepository interface {
	// GetWorkflow returns the workflow or ErrWorkflowNotFound.
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
}
