package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/stretchr/testify/mock"
)

// MockRuntime is a mock implementation of blockruntime.Runtime interface.
type MockRuntime struct {
	mock.Mock
}

func (m *MockRuntime) Execute(ctx context.Context, request blockruntime.Request) (blockruntime.Result, error) {
	args := m.Called(ctx, request)

	return args.Get(0).(blockruntime.Result), args.Error(1)
}
