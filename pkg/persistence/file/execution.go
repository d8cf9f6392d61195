package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const (
	executionsDir     = "executions"
	nodeExecutionsDir = "node_executions"
)

// ExecutionRepository stores one JSON file per execution under <root>/executions.
type ExecutionRepository struct {
	persistence *Persistence
}

// CreateExecution writes a new execution file.
func (er *ExecutionRepository) CreateExecution(_ context.Context, execution *models.Execution) error {
	err := validateID(execution.ID)
	if err != nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, err)
	}

	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	path := er.persistence.path(executionsDir, execution.ID)
	if _, err := os.Stat(path); err == nil {
		return persistence.NewExecutionError("CreateExecution", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	return writeJSON(path, execution)
}

// GetExecution reads an execution file.
func (er *ExecutionRepository) GetExecution(_ context.Context, executionID string) (*models.Execution, error) {
	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	return er.load(executionID)
}

// TransitionExecution applies the transition under the store lock when the current status is allowed.
func (er *ExecutionRepository) TransitionExecution(_ context.Context, transition models.ExecutionTransition) (*models.Execution, error) {
	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	execution, err := er.load(transition.ExecutionID)
	if err != nil {
		return nil, err
	}

	if !transition.Matches(execution) {
		return execution, persistence.NewExecutionError("TransitionExecution", transition.ExecutionID, persistence.ErrInvalidTransition)
	}

	transition.Apply(execution)

	err = writeJSON(er.persistence.path(executionsDir, execution.ID), execution)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// ExecutionsSince scans every execution file and returns those of workflowID started at or after since.
func (er *ExecutionRepository) ExecutionsSince(_ context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	return er.executionsSince(workflowID, since)
}

// NodeExecutionsSince returns the node executions of every execution matched by ExecutionsSince.
func (er *ExecutionRepository) NodeExecutionsSince(_ context.Context, workflowID string, since time.Time) ([]*models.NodeExecution, error) {
	er.persistence.mu.Lock()
	defer er.persistence.mu.Unlock()

	executions, err := er.executionsSince(workflowID, since)
	if err != nil {
		return nil, err
	}

	nodeExecutions := make([]*models.NodeExecution, 0)

	for _, execution := range executions {
		rows, err := er.persistence.nodeRepo.load(execution.ID)
		if err != nil {
			return nil, err
		}

		nodeExecutions = append(nodeExecutions, rows...)
	}

	return nodeExecutions, nil
}

func (er *ExecutionRepository) executionsSince(workflowID string, since time.Time) ([]*models.Execution, error) {
	entries, err := os.ReadDir(filepath.Join(er.persistence.root, executionsDir))
	if err != nil {
		if isNotExist(err) {
			return []*models.Execution{}, nil
		}

		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		execution, err := er.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID && !execution.StartedAt.Before(since) {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

// load must be called with the store lock held.
func (er *ExecutionRepository) load(executionID string) (*models.Execution, error) {
	err := validateID(executionID)
	if err != nil {
		return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
	}

	var execution models.Execution

	err = readJSON(er.persistence.path(executionsDir, executionID), &execution)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewExecutionError("GetExecution", executionID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	return &execution, nil
}

// NodeExecutionRepository stores the node executions of one execution in
// <root>/node_executions/<execution_id>.json, in creation order.
type NodeExecutionRepository struct {
	persistence *Persistence
}

// SaveNodeExecution replaces the row with the same node id or appends a new one.
func (nr *NodeExecutionRepository) SaveNodeExecution(_ context.Context, nodeExecution *models.NodeExecution) error {
	err := validateID(nodeExecution.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("SaveNodeExecution", nodeExecution.ExecutionID, err)
	}

	nr.persistence.mu.Lock()
	defer nr.persistence.mu.Unlock()

	rows, err := nr.load(nodeExecution.ExecutionID)
	if err != nil {
		return err
	}

	row := *nodeExecution
	replaced := false

	for i, existing := range rows {
		if existing.NodeID == row.NodeID {
			row.ID = existing.ID
			rows[i] = &row
			replaced = true

			break
		}
	}

	if !replaced {
		rows = append(rows, &row)
	}

	return writeJSON(nr.persistence.path(nodeExecutionsDir, nodeExecution.ExecutionID), rows)
}

// NodeExecutions lists the node executions of an execution.
func (nr *NodeExecutionRepository) NodeExecutions(_ context.Context, executionID string) ([]*models.NodeExecution, error) {
	nr.persistence.mu.Lock()
	defer nr.persistence.mu.Unlock()

	_, err := nr.persistence.executionRepo.load(executionID)
	if err != nil {
		return nil, err
	}

	return nr.load(executionID)
}

// load must be called with the store lock held.
func (nr *NodeExecutionRepository) load(executionID string) ([]*models.NodeExecution, error) {
	rows := make([]*models.NodeExecution, 0)

	err := readJSON(nr.persistence.path(nodeExecutionsDir, executionID), &rows)
	if err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("failed to read node executions of %s: %w", executionID, err)
	}

	return rows, nil
}
