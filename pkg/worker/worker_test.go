package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/dukex/flowrun/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, queue.Job) error { return nil }

func newWorker(q queue.Queue) *worker.Worker {
	return worker.New("worker-1", q, noopHandler, slog.New(slog.DiscardHandler)).
		WithReconnectDelay(time.Millisecond, 5*time.Millisecond)
}

func TestWorker_ReconnectsWhileQueueIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	q := &mocks.MockQueue{}
	q.On("Consume", mock.Anything, mock.Anything).
		Return(queue.Unavailable(errors.New("connection refused"))).Twice()
	q.On("Consume", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil).Once()
	q.On("Reset").Return(nil)

	require.NoError(t, newWorker(q).Run(ctx))

	q.AssertNumberOfCalls(t, "Consume", 3)
	q.AssertNumberOfCalls(t, "Reset", 2)
}

func TestWorker_ReturnsOtherErrors(t *testing.T) {
	q := &mocks.MockQueue{}
	q.On("Consume", mock.Anything, mock.Anything).Return(errors.New("invalid group")).Once()

	err := newWorker(q).Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid group")
	q.AssertNotCalled(t, "Reset")
}

func TestWorker_StopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	q := &mocks.MockQueue{}
	q.On("Consume", mock.Anything, mock.Anything).Return(context.Canceled).Once()

	assert.NoError(t, newWorker(q).Run(ctx))
}
