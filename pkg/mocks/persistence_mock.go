// Package mocks provides testify mocks of the store, queue and block runtime interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface. The repository
// accessors return the embedded repository mocks.
type MockPersistence struct {
	mock.Mock

	Executions     *MockExecutionRepository
	NodeExecutions *MockNodeExecutionRepository
	Reader         *MockExecutionReader
}

// NewMockPersistence creates a MockPersistence with fresh repository mocks.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Executions:     &MockExecutionRepository{},
		NodeExecutions: &MockNodeExecutionRepository{},
		Reader:         &MockExecutionReader{},
	}
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) NodeExecutionRepository() persistence.NodeExecutionRepository {
	return m.NodeExecutions
}

func (m *MockPersistence) ExecutionReader() persistence.ExecutionReader {
	return m.Reader
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) TransitionExecution(
	ctx context.Context,
	transition models.ExecutionTransition,
) (*models.Execution, error) {
	args := m.Called(ctx, transition)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

// MockNodeExecutionRepository is a mock implementation of persistence.NodeExecutionRepository interface.
type MockNodeExecutionRepository struct {
	mock.Mock
}

func (m *MockNodeExecutionRepository) SaveNodeExecution(ctx context.Context, nodeExecution *models.NodeExecution) error {
	args := m.Called(ctx, nodeExecution)

	return args.Error(0)
}

func (m *MockNodeExecutionRepository) NodeExecutions(ctx context.Context, executionID string) ([]*models.NodeExecution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.NodeExecution), args.Error(1)
}

// MockExecutionReader is a mock implementation of persistence.ExecutionReader interface.
type MockExecutionReader struct {
	mock.Mock
}

func (m *MockExecutionReader) ExecutionsSince(ctx context.Context, workflowID string, since time.Time) ([]*models.Execution, error) {
	args := m.Called(ctx, workflowID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionReader) NodeExecutionsSince(
	ctx context.Context,
	workflowID string,
	since time.Time,
) ([]*models.NodeExecution, error) {
	args := m.Called(ctx, workflowID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.NodeExecution), args.Error(1)
}

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}
