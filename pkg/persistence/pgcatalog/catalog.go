// Package pgcatalog reads workflow graphs from the editor's PostgreSQL tables.
package pgcatalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    deleted_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS workflow_nodes (
    workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
    id          TEXT NOT NULL,
    node_type   TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    config      JSONB NOT NULL DEFAULT '{}',
    optional    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    PRIMARY KEY (workflow_id, id)
);

CREATE TABLE IF NOT EXISTS workflow_connections (
    workflow_id    TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
    source_node_id TEXT NOT NULL,
    target_node_id TEXT NOT NULL,
    target_port    TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_workflow_nodes_workflow_id ON workflow_nodes(workflow_id);
CREATE INDEX IF NOT EXISTS idx_workflow_connections_workflow_id ON workflow_connections(workflow_id);
`

// Catalog implements persistence.WorkflowRepository over a pgx connection pool.
type Catalog struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Catalog backed by the given pool.
func New(db *pgxpool.Pool, logger *slog.Logger) *Catalog {
	return &Catalog{db: db, logger: logger.With("module", "pgcatalog")}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, logger *slog.Logger, databaseURL string) (*Catalog, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: open pool: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()

		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	return New(pool, logger), nil
}

// CreateSchema creates the editor tables if they don't exist. Used by development setups and tests.
func (c *Catalog) CreateSchema(ctx context.Context) error {
	_, err := c.db.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("catalog: create schema: %w", err)
	}

	return nil
}

// Close releases the pool.
func (c *Catalog) Close() {
	c.db.Close()
}

// GetWorkflow loads the workflow with its nodes and connections.
func (c *Catalog) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow := &models.Workflow{ID: workflowID}

	err := c.db.QueryRow(ctx,
		`SELECT name FROM workflows WHERE id = $1 AND deleted_at IS NULL`, workflowID,
	).Scan(&workflow.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetWorkflow", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("catalog: get workflow: %w", err)
	}

	workflow.Nodes, err = c.nodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.Connections, err = c.connections(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "workflow loaded",
		"workflow_id", workflowID,
		"nodes", len(workflow.Nodes),
		"connections", len(workflow.Connections),
	)

	return workflow, nil
}

func (c *Catalog) nodes(ctx context.Context, workflowID string) ([]*models.WorkflowNode, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, node_type, name, config, optional
		 FROM workflow_nodes WHERE workflow_id = $1 ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*models.WorkflowNode{}

	for rows.Next() {
		var (
			node   models.WorkflowNode
			config []byte
		)

		if err := rows.Scan(&node.ID, &node.Type, &node.Name, &config, &node.Optional); err != nil {
			return nil, fmt.Errorf("catalog: scan node: %w", err)
		}

		if len(config) > 0 {
			if err := json.Unmarshal(config, &node.Config); err != nil {
				return nil, fmt.Errorf("catalog: decode config of node %s: %w", node.ID, err)
			}
		}

		nodes = append(nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows nodes: %w", err)
	}

	return nodes, nil
}

func (c *Catalog) connections(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	rows, err := c.db.Query(ctx,
		`SELECT source_node_id, target_node_id, target_port
		 FROM workflow_connections WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list connections: %w", err)
	}
	defer rows.Close()

	connections := []*models.Connection{}

	for rows.Next() {
		var connection models.Connection
		if err := rows.Scan(&connection.SourceNodeID, &connection.TargetNodeID, &connection.TargetPort); err != nil {
			return nil, fmt.Errorf("catalog: scan connection: %w", err)
		}

		connections = append(connections, &connection)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows connections: %w", err)
	}

	return connections, nil
}

// SaveWorkflow replaces the stored graph of a workflow in one transaction.
func (c *Catalog) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO workflows (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, deleted_at = NULL`,
		workflow.ID, workflow.Name)
	if err != nil {
		return fmt.Errorf("catalog: upsert workflow: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM workflow_nodes WHERE workflow_id = $1`,
		`DELETE FROM workflow_connections WHERE workflow_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, workflow.ID); err != nil {
			return fmt.Errorf("catalog: clear graph: %w", err)
		}
	}

	for _, node := range workflow.Nodes {
		config, err := json.Marshal(node.Config)
		if err != nil {
			return fmt.Errorf("catalog: encode config of node %s: %w", node.ID, err)
		}

		if node.Config == nil {
			config = []byte("{}")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_nodes (workflow_id, id, node_type, name, config, optional)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			workflow.ID, node.ID, node.Type, node.Name, string(config), node.Optional)
		if err != nil {
			return fmt.Errorf("catalog: insert node %s: %w", node.ID, err)
		}
	}

	for _, connection := range workflow.Connections {
		_, err = tx.Exec(ctx,
			`INSERT INTO workflow_connections (workflow_id, source_node_id, target_node_id, target_port)
			 VALUES ($1, $2, $3, $4)`,
			workflow.ID, connection.SourceNodeID, connection.TargetNodeID, connection.TargetPort)
		if err != nil {
			return fmt.Errorf("catalog: insert connection: %w", err)
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}

	return nil
}
