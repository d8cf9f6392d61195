package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/retry"
	"github.com/google/uuid"
)

// QueueUnavailableError is stored on executions whose job could not be published.
const QueueUnavailableError = "queue unavailable"

// Execution triggers workflow runs and reads their state.
type Execution struct {
	persistence persistence.Persistence
	queue       queue.Queue
	policy      retry.Policy
	logger      *slog.Logger
	now         func() time.Time
}

// NewExecution creates an execution service. policy bounds the enqueue retry.
func NewExecution(
	persistence persistence.Persistence,
	q queue.Queue,
	policy retry.Policy,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		persistence: persistence,
		queue:       q,
		policy:      policy,
		logger:      logger.With("module", "execution_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// TriggerRequest asks for a new run of a workflow.
type TriggerRequest struct {
	WorkflowID  string `json:"workflow_id"            validate:"required"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}

// Trigger records a pending execution and enqueues its job. When the queue stays unavailable
// after every attempt the execution is failed and an ErrQueueUnavailable error is returned along
// with the failed row.
func (e *Execution) Trigger(ctx context.Context, req TriggerRequest) (*models.Execution, error) {
	workflowID := strings.TrimSpace(req.WorkflowID)
	if workflowID == "" {
		return nil, NewValidationError("Trigger", "WORKFLOW_ID_REQUIRED", "workflow_id is required",
			ErrWorkflowIDRequired)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate execution id: %w", err)
	}

	now := e.now()
	execution := &models.Execution{
		ID:         id.String(),
		WorkflowID: workflowID,
		Status:     models.ExecutionStatusPending,
		StartedAt:  now,
		UpdatedAt:  now,
	}

	if req.TriggeredBy != "" {
		execution.TriggeredBy = &req.TriggeredBy
	}

	err = e.persistence.ExecutionRepository().CreateExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	err = e.Enqueue(ctx, queue.NewJob(execution.ID, execution.WorkflowID))
	if err == nil {
		e.logger.InfoContext(ctx, "Execution triggered",
			"execution_id", execution.ID, "workflow_id", workflowID)

		return execution, nil
	}

	e.logger.ErrorContext(ctx, "Failed to enqueue execution",
		"execution_id", execution.ID, "workflow_id", workflowID, "error", err)

	failed, transitionErr := e.persistence.ExecutionRepository().TransitionExecution(
		context.WithoutCancel(ctx),
		models.ExecutionTransition{
			ExecutionID: execution.ID,
			From:        []models.ExecutionStatus{models.ExecutionStatusPending},
			To:          models.ExecutionStatusFailed,
			Error:       QueueUnavailableError,
			At:          e.now(),
		},
	)
	if transitionErr != nil {
		e.logger.ErrorContext(ctx, "Failed to mark unqueued execution as failed",
			"execution_id", execution.ID, "error", transitionErr)

		return nil, errors.Join(err, transitionErr)
	}

	return failed, err
}

// Enqueue publishes job, re-dialing the queue between attempts while it is unavailable. Other
// errors are returned immediately.
func (e *Execution) Enqueue(ctx context.Context, job queue.Job) error {
	attempts, err := retry.Do(ctx, e.policy, queue.IsUnavailable,
		func(ctx context.Context, _ int) error {
			return e.queue.Enqueue(ctx, job)
		},
		func(attempt int, err error, delay time.Duration) {
			e.logger.WarnContext(ctx, "Queue unavailable, retrying enqueue",
				"execution_id", job.ExecutionID, "attempt", attempt, "delay", delay, "error", err)

			resetErr := e.queue.Reset()
			if resetErr != nil {
				e.logger.WarnContext(ctx, "Failed to reset queue connection", "error", resetErr)
			}
		},
	)
	if err != nil {
		if queue.IsUnavailable(err) {
			return fmt.Errorf("enqueue execution %s after %d attempts: %w", job.ExecutionID, attempts, err)
		}

		return fmt.Errorf("enqueue execution %s: %w", job.ExecutionID, err)
	}

	return nil
}

// GetExecution returns one execution.
func (e *Execution) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return e.persistence.ExecutionRepository().GetExecution(ctx, executionID)
}

// NodeExecutions lists the node rows of an existing execution in creation order.
func (e *Execution) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	_, err := e.persistence.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	rows, err := e.persistence.NodeExecutionRepository().NodeExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if rows == nil {
		rows = []*models.NodeExecution{}
	}

	return rows, nil
}

// HealthCheck checks the health of the persistence layer.
func (e *Execution) HealthCheck(ctx context.Context) (string, bool) {
	if e.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := e.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}
