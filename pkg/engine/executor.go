// Package engine runs workflow executions: it consumes jobs, walks the workflow graph and records
// execution and node state in the store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInfrastructure wraps store failures and interruptions. A job failing with it is not
// acknowledged and will be delivered again.
var ErrInfrastructure = errors.New("infrastructure failure")

func infrastructure(err error) error {
	return fmt.Errorf("%w: %w", ErrInfrastructure, err)
}

// Executor handles execution jobs. It is safe for concurrent use; each job is processed
// sequentially and an execution is handled by at most one job of this executor at a time.
type Executor struct {
	executions persistence.ExecutionRepository
	nodes      persistence.NodeExecutionRepository
	workflows  persistence.WorkflowRepository
	runtime    blockruntime.Runtime
	policy     retry.Policy
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithTracer sets the tracer used for job and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor reading and writing state through store.
func NewExecutor(
	store persistence.Persistence,
	workflows persistence.WorkflowRepository,
	runtime blockruntime.Runtime,
	policy retry.Policy,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	executor := &Executor{
		executions: store.ExecutionRepository(),
		nodes:      store.NodeExecutionRepository(),
		workflows:  workflows,
		runtime:    runtime,
		policy:     policy,
		logger:     logger.With("module", "engine"),
		tracer:     otelhelper.NoopTracer(),
		now:        func() time.Time { return time.Now().UTC() },
		active:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// run is the state of one Handle call.
type run struct {
	execution  *models.Execution
	generation int
	graph      *Graph
	rows       map[string]*models.NodeExecution
	outputs    map[string]map[string]any
	logger     *slog.Logger
}

// Handle processes one job. A nil result means the message can be acknowledged; a
// queue.ErrPoison error means the message can never be processed; any other error asks for
// redelivery.
func (e *Executor) Handle(ctx context.Context, job queue.Job) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.handle",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
	)
	defer span.End()

	err := e.handle(ctx, job)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (e *Executor) handle(ctx context.Context, job queue.Job) error {
	logger := e.logger.With("execution_id", job.ExecutionID, "workflow_id", job.WorkflowID,
		"generation", job.Generation)

	if !e.acquire(job.ExecutionID) {
		logger.InfoContext(ctx, "Execution is already being handled, acknowledging duplicate job")

		return nil
	}
	defer e.done(job.ExecutionID)

	execution, ok, err := e.checkpoint(ctx, logger, job.ExecutionID, job.Generation)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return queue.Poison(err)
		}

		return err
	}

	if !ok {
		return nil
	}

	switch execution.Status {
	case models.ExecutionStatusCompleted, models.ExecutionStatusFailed, models.ExecutionStatusPaused:
		logger.InfoContext(ctx, "Execution is not runnable, acknowledging job", "status", execution.Status)

		return nil
	case models.ExecutionStatusPending:
		logger.InfoContext(ctx, "Starting execution")
	case models.ExecutionStatusRunning:
		logger.InfoContext(ctx, "Recovering running execution")
	}

	workflow, err := e.workflows.GetWorkflow(ctx, execution.WorkflowID)
	if err != nil {
		if !persistence.IsWorkflowNotFound(err) {
			return infrastructure(err)
		}

		logger.WarnContext(ctx, "Workflow not found, failing execution")

		return e.finish(ctx, logger, execution.ID, job.Generation, []models.ExecutionStatus{
			models.ExecutionStatusPending,
			models.ExecutionStatusRunning,
		}, models.ExecutionStatusFailed, fmt.Sprintf("workflow %s not found", execution.WorkflowID))
	}

	if execution.Status == models.ExecutionStatusPending {
		execution, err = e.executions.TransitionExecution(ctx, models.ExecutionTransition{
			ExecutionID: execution.ID,
			From:        []models.ExecutionStatus{models.ExecutionStatusPending},
			To:          models.ExecutionStatusRunning,
			At:          e.now(),
		}.OwnedBy(job.Generation))
		if err != nil {
			if persistence.IsInvalidTransition(err) {
				logger.InfoContext(ctx, "Execution was claimed by another worker")

				return nil
			}

			return infrastructure(err)
		}
	}

	graph, err := BuildGraph(workflow)
	if err != nil {
		logger.WarnContext(ctx, "Workflow graph is invalid, failing execution", "error", err)

		return e.finish(ctx, logger, execution.ID, job.Generation, runningOnly,
			models.ExecutionStatusFailed, err.Error())
	}

	existing, err := e.nodes.NodeExecutions(ctx, execution.ID)
	if err != nil {
		return infrastructure(err)
	}

	state := &run{
		execution:  execution,
		generation: job.Generation,
		graph:      graph,
		rows:       make(map[string]*models.NodeExecution, len(existing)),
		outputs:    make(map[string]map[string]any, len(graph.Order)),
		logger:     logger,
	}

	for _, row := range existing {
		state.rows[row.NodeID] = row
	}

	return e.walk(ctx, state)
}

func (e *Executor) acquire(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.active[executionID]; ok {
		return false
	}

	e.active[executionID] = struct{}{}

	return true
}

func (e *Executor) done(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, executionID)
}

// checkpoint reads the execution and reports whether the job of the given generation may keep
// running it. A paused execution is released: its generation moves on and the job stops, so a
// resume hands it to a new job. A job of an older generation stops without touching it.
func (e *Executor) checkpoint(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	generation int,
) (*models.Execution, bool, error) {
	for {
		current, err := e.executions.GetExecution(ctx, executionID)
		if err != nil {
			if persistence.IsExecutionNotFound(err) {
				return nil, false, err
			}

			return nil, false, infrastructure(err)
		}

		if current.Generation != generation {
			logger.InfoContext(ctx, "Execution belongs to another job generation, stopping",
				"current_generation", current.Generation)

			return current, false, nil
		}

		if current.Status != models.ExecutionStatusPaused {
			return current, true, nil
		}

		_, err = e.executions.TransitionExecution(ctx,
			models.NewReleaseTransition(executionID, models.ExecutionStatusPaused, generation, e.now()))
		if err == nil {
			logger.InfoContext(ctx, "Execution paused, releasing job")

			return current, false, nil
		}

		if !persistence.IsInvalidTransition(err) {
			return nil, false, infrastructure(err)
		}
	}
}

var runningOnly = []models.ExecutionStatus{models.ExecutionStatusRunning}

func (e *Executor) walk(ctx context.Context, state *run) error {
	logger := state.logger

	for i, node := range state.graph.Order {
		current, ok, err := e.checkpoint(ctx, logger, state.execution.ID, state.generation)
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		if current.Status != models.ExecutionStatusRunning {
			logger.InfoContext(ctx, "Execution stopped, skipping remaining nodes",
				"status", current.Status, "error", current.Error)

			return e.skipRemaining(ctx, state, i)
		}

		row := state.rows[node.ID]

		if row != nil && row.Status == models.NodeStatusCompleted {
			output, err := decodeOutput(row.Output)
			if err != nil {
				return fmt.Errorf("node %s: %w", node.ID, err)
			}

			state.outputs[node.ID] = output

			continue
		}

		if row != nil && row.Status == models.NodeStatusSkipped {
			continue
		}

		if row != nil && row.Status == models.NodeStatusFailed && row.FinishedAt != nil {
			if node.Optional {
				continue
			}

			err := e.skipRemaining(ctx, state, i+1)
			if err != nil {
				return err
			}

			return e.finish(ctx, logger, state.execution.ID, state.generation, runningOnly,
				models.ExecutionStatusFailed, fmt.Sprintf("node %q failed: %s", node.ID, row.ErrorMessage()))
		}

		if upstream := blockedBy(state, node.ID); upstream != "" {
			logger.InfoContext(ctx, "Skipping node", "node_id", node.ID, "upstream_node_id", upstream)

			err := e.markSkipped(ctx, state, node.ID)
			if err != nil {
				return err
			}

			continue
		}

		failure, err := e.runNode(ctx, state, node)
		if err != nil {
			return err
		}

		if failure != "" && !node.Optional {
			err := e.skipRemaining(ctx, state, i+1)
			if err != nil {
				return err
			}

			return e.finish(ctx, logger, state.execution.ID, state.generation, runningOnly,
				models.ExecutionStatusFailed, fmt.Sprintf("node %q failed: %s", node.ID, failure))
		}
	}

	return e.finish(ctx, logger, state.execution.ID, state.generation, runningOnly,
		models.ExecutionStatusCompleted, "")
}

// runNode invokes the block for node with retries and records the result. It returns the failure
// message when the node failed, or an error when the run must be interrupted.
func (e *Executor) runNode(ctx context.Context, state *run, node *models.WorkflowNode) (string, error) {
	logger := state.logger.With("node_id", node.ID, "node_type", node.Type)

	input := mergeInput(state, node.ID)

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("encode input of node %s: %w", node.ID, err)
	}

	row := state.rows[node.ID]
	if row == nil {
		row = &models.NodeExecution{
			ID:          uuid.Must(uuid.NewV7()).String(),
			ExecutionID: state.execution.ID,
			NodeID:      node.ID,
			Status:      models.NodeStatusPending,
		}
		state.rows[node.ID] = row

		err = e.save(ctx, row)
		if err != nil {
			return "", err
		}
	}

	// An interrupted attempt keeps its count; the node gets the rest of the policy's attempts and
	// at least one more.
	policy := e.policy
	if row.Attempt > 0 {
		policy.Attempts = max(policy.Attempts-row.Attempt, 1)
	}

	row.Input = inputJSON
	row.Output = nil
	row.FinishedAt = nil

	var output map[string]any

	invoke := func(ctx context.Context, _ int) error {
		row.Attempt++
		row.Status = models.NodeStatusRunning

		if row.StartedAt == nil {
			startedAt := e.now()
			row.StartedAt = &startedAt
		}

		err := e.save(ctx, row)
		if err != nil {
			return err
		}

		ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node.execute",
			attribute.String(otelhelper.ExecutionIDKey, row.ExecutionID),
			attribute.String(otelhelper.NodeIDKey, node.ID),
			attribute.String(otelhelper.NodeTypeKey, node.Type),
			attribute.Int(otelhelper.AttemptKey, row.Attempt),
		)
		defer span.End()

		result, err := e.runtime.Execute(ctx, blockruntime.Request{
			ExecutionID: row.ExecutionID,
			NodeID:      node.ID,
			Type:        node.Type,
			Config:      node.Config,
			Input:       input,
		})
		if err != nil {
			otelhelper.SetError(span, err)

			return err
		}

		output = result.Output

		return nil
	}

	onRetry := func(attempt int, err error, delay time.Duration) {
		logger.WarnContext(ctx, "Node failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)

		message := err.Error()
		row.Error = &message

		saveErr := e.save(ctx, row)
		if saveErr != nil {
			logger.WarnContext(ctx, "Failed to record node retry", "error", saveErr)
		}
	}

	_, err = retry.Do(ctx, policy, isRetryable, invoke, onRetry)

	if errors.Is(err, ErrInfrastructure) {
		return "", err
	}

	if err != nil && ctx.Err() != nil {
		return "", infrastructure(fmt.Errorf("node %s interrupted: %w", node.ID, ctx.Err()))
	}

	finishedAt := e.now()
	row.FinishedAt = &finishedAt

	if err != nil {
		message := err.Error()
		row.Status = models.NodeStatusFailed
		row.Error = &message

		logger.WarnContext(ctx, "Node failed", "attempt", row.Attempt, "optional", node.Optional, "error", err)

		return message, e.save(ctx, row)
	}

	outputJSON, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("encode output of node %s: %w", node.ID, err)
	}

	row.Status = models.NodeStatusCompleted
	row.Output = outputJSON
	row.Error = nil
	state.outputs[node.ID] = output

	logger.InfoContext(ctx, "Node completed", "attempt", row.Attempt)

	return "", e.save(ctx, row)
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrInfrastructure) {
		return false
	}

	return blockruntime.IsTransient(err)
}

func (e *Executor) save(ctx context.Context, row *models.NodeExecution) error {
	err := e.nodes.SaveNodeExecution(ctx, row)
	if err != nil {
		return infrastructure(err)
	}

	return nil
}

func (e *Executor) markSkipped(ctx context.Context, state *run, nodeID string) error {
	row := state.rows[nodeID]
	if row == nil {
		row = &models.NodeExecution{
			ID:          uuid.Must(uuid.NewV7()).String(),
			ExecutionID: state.execution.ID,
			NodeID:      nodeID,
		}
		state.rows[nodeID] = row
	}

	finishedAt := e.now()
	row.Status = models.NodeStatusSkipped
	row.FinishedAt = &finishedAt

	return e.save(ctx, row)
}

// skipRemaining closes every node from position `from` on that has not reached a terminal state.
func (e *Executor) skipRemaining(ctx context.Context, state *run, from int) error {
	err := SkipUnvisited(ctx, e.nodes, state.execution.ID, state.graph.NodeIDs()[from:], e.now())
	if err != nil {
		return infrastructure(err)
	}

	return nil
}

func (e *Executor) finish(
	ctx context.Context,
	logger *slog.Logger,
	executionID string,
	generation int,
	from []models.ExecutionStatus,
	to models.ExecutionStatus,
	message string,
) error {
	execution, err := e.executions.TransitionExecution(ctx, models.ExecutionTransition{
		ExecutionID: executionID,
		From:        from,
		To:          to,
		Error:       message,
		At:          e.now(),
	}.OwnedBy(generation))
	if err != nil {
		if persistence.IsInvalidTransition(err) {
			var current models.ExecutionStatus
			if execution != nil {
				current = execution.Status
			}

			logger.InfoContext(ctx, "Execution changed concurrently, keeping its status",
				"status", current, "wanted", to)

			return nil
		}

		return infrastructure(err)
	}

	if to == models.ExecutionStatusFailed {
		logger.WarnContext(ctx, "Execution failed", "error", message)
	} else {
		logger.InfoContext(ctx, "Execution completed")
	}

	return nil
}

// blockedBy returns the first upstream node that failed or was skipped.
func blockedBy(state *run, nodeID string) string {
	for _, conn := range state.graph.Incoming(nodeID) {
		row := state.rows[conn.SourceNodeID]
		if row == nil {
			continue
		}

		if row.Status == models.NodeStatusFailed || row.Status == models.NodeStatusSkipped {
			return conn.SourceNodeID
		}
	}

	return ""
}

// mergeInput places each upstream output under its connection port.
func mergeInput(state *run, nodeID string) map[string]any {
	input := make(map[string]any)

	for _, conn := range state.graph.Incoming(nodeID) {
		input[conn.Port()] = state.outputs[conn.SourceNodeID]
	}

	return input
}

func decodeOutput(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var output map[string]any

	err := json.Unmarshal(raw, &output)
	if err != nil {
		return nil, fmt.Errorf("decode stored output: %w", err)
	}

	return output, nil
}
