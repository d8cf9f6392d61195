// Package control implements pause, resume and cancel of executions. Every operation is a
// conditional status update in the store; workers observe it at their next node boundary.
// A worker that sees a pause releases the execution; only a released execution gets a new job
// on resume, so an execution never has two owners.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
)

// Enqueuer publishes execution jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Service changes the status of executions on behalf of users.
type Service struct {
	executions persistence.ExecutionRepository
	nodes      persistence.NodeExecutionRepository
	workflows  persistence.WorkflowRepository
	enqueuer   Enqueuer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a control service. Resume publishes through enqueuer.
func NewService(
	store persistence.Persistence,
	workflows persistence.WorkflowRepository,
	enqueuer Enqueuer,
	logger *slog.Logger,
) *Service {
	return &Service{
		executions: store.ExecutionRepository(),
		nodes:      store.NodeExecutionRepository(),
		workflows:  workflows,
		enqueuer:   enqueuer,
		logger:     logger.With("module", "execution_control"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Pause moves a running execution to paused. The worker releases the job at the next node
// boundary.
func (s *Service) Pause(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.transition(ctx, executionID, models.ExecutionStatusRunning, models.ExecutionStatusPaused, "")
	if err != nil {
		return execution, err
	}

	s.logger.InfoContext(ctx, "Execution paused", "execution_id", executionID)

	return execution, nil
}

// Resume moves a paused execution back to running. If its worker already released it, a new
// job is enqueued for the next generation; otherwise the worker still holding it carries on. If
// the job cannot be published the execution is released and paused again and the queue error is
// returned.
func (s *Service) Resume(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.executions.TransitionExecution(ctx,
		s.resumeTransition(executionID).WhenReleased(true))
	if persistence.IsInvalidTransition(err) {
		execution, err = s.executions.TransitionExecution(ctx,
			s.resumeTransition(executionID).WhenReleased(false))
		if err == nil {
			s.logger.InfoContext(ctx, "Execution resumed, worker still holds it", "execution_id", executionID)
		}

		return execution, err
	}

	if err != nil {
		return execution, err
	}

	job := queue.NewJob(execution.ID, execution.WorkflowID).AtGeneration(execution.Generation)

	err = s.enqueuer.Enqueue(ctx, job)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to enqueue resumed execution, pausing it again",
			"execution_id", executionID, "error", err)

		_, rollbackErr := s.executions.TransitionExecution(context.WithoutCancel(ctx),
			models.NewReleaseTransition(executionID, models.ExecutionStatusRunning, execution.Generation, s.now()))
		if rollbackErr != nil {
			s.logger.ErrorContext(ctx, "Failed to pause execution after enqueue failure",
				"execution_id", executionID, "error", rollbackErr)
		}

		return nil, fmt.Errorf("resume execution %s: %w", executionID, err)
	}

	s.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID, "generation", execution.Generation)

	return execution, nil
}

func (s *Service) resumeTransition(executionID string) models.ExecutionTransition {
	return models.ExecutionTransition{
		ExecutionID: executionID,
		From:        []models.ExecutionStatus{models.ExecutionStatusPaused},
		To:          models.ExecutionStatusRunning,
		At:          s.now(),
	}
}

// Cancel fails a running or paused execution with the cancellation error. The worker holding
// the execution skips the remaining nodes itself; a released execution has no worker, so its
// unvisited nodes are skipped here.
func (s *Service) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	execution, err := s.transition(ctx, executionID, models.ExecutionStatusPaused, models.ExecutionStatusFailed,
		models.CancellationError)
	if err == nil {
		s.logger.InfoContext(ctx, "Paused execution canceled", "execution_id", executionID)

		if !execution.Released {
			return execution, nil
		}

		err = s.skipUnvisited(ctx, execution)
		if err != nil {
			return nil, err
		}

		return execution, nil
	}

	if !persistence.IsInvalidTransition(err) {
		return nil, err
	}

	execution, err = s.transition(ctx, executionID, models.ExecutionStatusRunning, models.ExecutionStatusFailed,
		models.CancellationError)
	if err != nil {
		return execution, err
	}

	s.logger.InfoContext(ctx, "Running execution canceled", "execution_id", executionID)

	return execution, nil
}

func (s *Service) transition(
	ctx context.Context,
	executionID string,
	from, to models.ExecutionStatus,
	message string,
) (*models.Execution, error) {
	return s.executions.TransitionExecution(ctx, models.ExecutionTransition{
		ExecutionID: executionID,
		From:        []models.ExecutionStatus{from},
		To:          to,
		Error:       message,
		At:          s.now(),
	})
}

func (s *Service) skipUnvisited(ctx context.Context, execution *models.Execution) error {
	var nodeIDs []string

	workflow, err := s.workflows.GetWorkflow(ctx, execution.WorkflowID)

	switch {
	case err == nil:
		for _, node := range workflow.Nodes {
			nodeIDs = append(nodeIDs, node.ID)
		}
	case persistence.IsWorkflowNotFound(err):
		rows, err := s.nodes.NodeExecutions(ctx, execution.ID)
		if err != nil {
			return err
		}

		for _, row := range rows {
			nodeIDs = append(nodeIDs, row.NodeID)
		}
	default:
		return err
	}

	err = engine.SkipUnvisited(ctx, s.nodes, execution.ID, nodeIDs, s.now())
	if err != nil {
		return fmt.Errorf("skip nodes of canceled execution %s: %w", execution.ID, err)
	}

	return nil
}
