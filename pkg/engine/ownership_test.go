package engine_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/dukex/flowrun/pkg/blockruntime"
	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// blockingNode makes nodeID wait for release and counts overlapping invocations.
func blockingNode(f *fixture, nodeID string) (entered chan struct{}, release chan struct{}, overlap *atomic.Int32) {
	entered = make(chan struct{}, 2)
	release = make(chan struct{})
	overlap = &atomic.Int32{}

	var inFlight atomic.Int32

	f.runtime.on(nodeID, func(context.Context, blockruntime.Request, int) (map[string]any, error) {
		if inFlight.Add(1) > 1 {
			overlap.Add(1)
		}
		defer inFlight.Add(-1)

		entered <- struct{}{}
		<-release

		return map[string]any{"value": 1}, nil
	})

	return entered, release, overlap
}

func TestExecutor_ResumeWhileNodeRunsKeepsSingleWorker(t *testing.T) {
	f := newFixture(t, chain("a", "b", "c"))
	execution := f.trigger(t)
	ctx := t.Context()

	entered, release, overlap := blockingNode(f, "a")

	q := &mocks.MockQueue{}
	service := control.NewService(f.store, f.store.WorkflowRepository(), q, slog.New(slog.DiscardHandler))

	first := make(chan error, 1)
	go func() { first <- f.executor.Handle(ctx, f.job(execution)) }()

	<-entered

	_, err := service.Pause(ctx, execution.ID)
	require.NoError(t, err)

	resumed, err := service.Resume(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)

	// A duplicate delivery while the node runs is acknowledged without running anything.
	require.NoError(t, f.executor.Handle(ctx, f.job(execution)))

	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, 1, f.runtime.Count("a"))
	assert.Zero(t, overlap.Load())
	assert.Equal(t, []string{"a", "b", "c"}, f.runtime.Calls())

	got := f.execution(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Generation)
}

func TestExecutor_ReleasedGenerationStopsPreviousWorker(t *testing.T) {
	f := newFixture(t, chain("a", "b", "c"))
	execution := f.trigger(t)
	ctx := t.Context()

	other := engine.NewExecutor(f.store, f.store.WorkflowRepository(), f.runtime, fastPolicy(),
		slog.New(slog.DiscardHandler))

	entered, release, overlap := blockingNode(f, "a")

	var next queue.Job

	q := &mocks.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { next = args.Get(1).(queue.Job) }).
		Return(nil).Once()

	service := control.NewService(f.store, f.store.WorkflowRepository(), q, slog.New(slog.DiscardHandler))

	first := make(chan error, 1)
	go func() { first <- f.executor.Handle(ctx, f.job(execution)) }()

	<-entered

	_, err := service.Pause(ctx, execution.ID)
	require.NoError(t, err)

	// Another process receives a redelivered copy while paused and releases the execution.
	require.NoError(t, other.Handle(ctx, f.job(execution)))

	paused := f.execution(t, execution.ID)
	assert.True(t, paused.Released)
	assert.Equal(t, 1, paused.Generation)

	_, err = service.Resume(ctx, execution.ID)
	require.NoError(t, err)
	q.AssertExpectations(t)
	assert.Equal(t, queue.NewJob(execution.ID, execution.WorkflowID).AtGeneration(1), next)

	close(release)
	require.NoError(t, <-first)

	assert.Equal(t, []string{"a"}, f.runtime.Calls(), "the previous generation stops at the next node")

	require.NoError(t, other.Handle(ctx, next))

	assert.Equal(t, 1, f.runtime.Count("a"))
	assert.Zero(t, overlap.Load())
	assert.Equal(t, []string{"a", "b", "c"}, f.runtime.Calls())
	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, execution.ID).Status)
}
