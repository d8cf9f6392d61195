package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const (
	nodeExecutionColumns          = `id, execution_id, node_id, status, attempt, started_at, finished_at, input, output, error`
	qualifiedNodeExecutionColumns = `n.id, n.execution_id, n.node_id, n.status, n.attempt, n.started_at, n.finished_at, n.input, n.output, n.error`
)

// NodeExecutionRepository handles node execution database operations.
type NodeExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeExecutionRepository creates a new node execution repository.
func NewNodeExecutionRepository(db *sql.DB, logger *slog.Logger) *NodeExecutionRepository {
	return &NodeExecutionRepository{db: db, logger: logger}
}

// SaveNodeExecution upserts the row for (execution_id, node_id). The row keeps its original id.
func (nr *NodeExecutionRepository) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	query := `
		INSERT INTO node_executions (` + nodeExecutionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error
	`

	_, err := nr.db.ExecContext(ctx, query,
		nodeExecution.ID,
		nodeExecution.ExecutionID,
		nodeExecution.NodeID,
		nodeExecution.Status,
		nodeExecution.Attempt,
		nodeExecution.StartedAt,
		nodeExecution.FinishedAt,
		nullJSON(nodeExecution.Input),
		nullJSON(nodeExecution.Output),
		nodeExecution.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save node execution %s/%s: %w", nodeExecution.ExecutionID, nodeExecution.NodeID, err)
	}

	return nil
}

// NodeExecutions lists node executions of an execution in creation order.
func (nr *NodeExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	var exists bool

	err := nr.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, executionID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check execution: %w", err)
	}

	if !exists {
		return nil, persistence.NewExecutionError("NodeExecutions", executionID, persistence.ErrExecutionNotFound)
	}

	query := `
		SELECT ` + nodeExecutionColumns + `
		FROM node_executions
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := nr.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			nr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
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

// scanNodeExecution scans a node execution from a database row.
func scanNodeExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.NodeExecution, error) {
	var (
		nodeExecution models.NodeExecution
		startedAt     sql.NullTime
		finishedAt    sql.NullTime
		input, output []byte
		errMessage    sql.NullString
	)

	err := scanner.Scan(
		&nodeExecution.ID,
		&nodeExecution.ExecutionID,
		&nodeExecution.NodeID,
		&nodeExecution.Status,
		&nodeExecution.Attempt,
		&startedAt,
		&finishedAt,
		&input,
		&output,
		&errMessage,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		nodeExecution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		nodeExecution.FinishedAt = &finishedAt.Time
	}

	if input != nil {
		nodeExecution.Input = input
	}

	if output != nil {
		nodeExecution.Output = output
	}

	if errMessage.Valid {
		nodeExecution.Error = &errMessage.String
	}

	return &nodeExecution, nil
}
