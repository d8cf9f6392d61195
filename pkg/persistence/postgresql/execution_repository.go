package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/lib/pq"
)

const executionColumns = `id, workflow_id, status, triggered_by, started_at, finished_at, error, updated_at,
	generation, released`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// CreateExecution inserts a new execution row.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := er.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.Status,
		execution.TriggeredBy,
		execution.StartedAt,
		execution.FinishedAt,
		nullString(execution.Error),
		execution.UpdatedAt,
		execution.Generation,
		execution.Released,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution by its ID.
func (er *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := er.scanExecution(er.db.QueryRowContext(ctx, query, executionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// TransitionExecution updates the status with a compare-and-set on the allowed source statuses.
func (er *ExecutionRepository) TransitionExecution(ctx context.Context, transition models.ExecutionTransition) (*models.Execution, error) {
	var (
		finishedAt *time.Time
		errMessage sql.NullString
	)

	if transition.To.IsTerminal() {
		at := transition.At
		finishedAt = &at
	}

	if transition.To == models.ExecutionStatusFailed {
		errMessage = nullString(transition.Error)
	}

	from := make([]string, 0, len(transition.From))
	for _, status := range transition.From {
		from = append(from, string(status))
	}

	var (
		bump     int
		released sql.NullBool
		owner    sql.NullInt64
		whenFlag sql.NullBool
	)

	switch {
	case transition.Release:
		bump = 1
		released = sql.NullBool{Bool: true, Valid: true}
	case transition.To == models.ExecutionStatusRunning:
		released = sql.NullBool{Bool: false, Valid: true}
	}

	if transition.Generation != nil {
		owner = sql.NullInt64{Int64: int64(*transition.Generation), Valid: true}
	}

	if transition.Released != nil {
		whenFlag = sql.NullBool{Bool: *transition.Released, Valid: true}
	}

	query := `
		UPDATE executions
		SET status = $2, finished_at = $3, error = $4, updated_at = $5,
			generation = generation + $7, released = COALESCE($8::boolean, released)
		WHERE id = $1 AND status = ANY($6)
			AND ($9::integer IS NULL OR generation = $9)
			AND ($10::boolean IS NULL OR released = $10)
		RETURNING ` + executionColumns

	row := er.db.QueryRowContext(ctx, query,
		transition.ExecutionID,
		transition.To,
		finishedAt,
		errMessage,
		transition.At,
		pq.Array(from),
		bump,
		released,
		owner,
		whenFlag,
	)

	execution, err := er.scanExecution(row)
	if err == nil {
		return execution, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update execution status: %w", err)
	}

	current, err := er.GetExecution(ctx, transition.ExecutionID)
	if err != nil {
		return nil, err
	}

	er.logger.DebugContext(ctx, "execution transition rejected",
		"execution_id", transition.ExecutionID,
		"current_status", current.Status,
		"target_status", transition.To,
	)

	return current, persistence.NewExecutionError("TransitionExecution", transition.ExecutionID, persistence.ErrInvalidTransition)
}

// ExecutionsSince returns executions of a workflow started at or after since.
func (er *ExecutionRepository) ExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE workflow_id = $1 AND started_at >= $2
		ORDER BY started_at
	`

	rows, err := er.db.QueryContext(ctx, query, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := er.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// NodeExecutionsSince returns node executions of a workflow's executions started at or after since.
func (er *ExecutionRepository) NodeExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.NodeExecution, error) {
	query := `
		SELECT ` + qualifiedNodeExecutionColumns + `
		FROM node_executions n
		JOIN executions e ON e.id = n.execution_id
		WHERE e.workflow_id = $1 AND e.started_at >= $2
		ORDER BY n.created_at
	`

	rows, err := er.db.QueryContext(ctx, query, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	nodeExecutions := make([]*models.NodeExecution, 0)

	for rows.Next() {
		nodeExecution, err := scanNodeExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node execution: %w", err)
		}

		nodeExecutions = append(nodeExecutions, nodeExecution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node executions: %w", err)
	}

	return nodeExecutions, nil
}

// scanExecution scans an execution from a database row.
func (er *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var (
		execution   models.Execution
		triggeredBy sql.NullString
		finishedAt  sql.NullTime
		errMessage  sql.NullString
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.Status,
		&triggeredBy,
		&execution.StartedAt,
		&finishedAt,
		&errMessage,
		&execution.UpdatedAt,
		&execution.Generation,
		&execution.Released,
	)
	if err != nil {
		return nil, err
	}

	if triggeredBy.Valid {
		execution.TriggeredBy = &triggeredBy.String
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	execution.Error = errMessage.String

	return &execution, nil
}
