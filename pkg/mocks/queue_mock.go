package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/queue"
	"github.com/stretchr/testify/mock"
)

// MockQueue is a mock implementation of queue.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job queue.Job) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockQueue) Consume(ctx context.Context, handler queue.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockQueue) Reset() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockQueue) Close() error {
	args := m.Called()

	return args.Error(0)
}
