package control_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/control"
	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/persistence/persistencetest"
	"github.com/dukex/flowrun/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *file.Persistence
	queue   *mocks.MockQueue
	service *control.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().SaveWorkflow(t.Context(), &models.Workflow{
		ID: "wf-1",
		Nodes: []*models.WorkflowNode{
			{ID: "a", Type: "log"},
			{ID: "b", Type: "log"},
			{ID: "c", Type: "log"},
		},
		Connections: []*models.Connection{
			{SourceNodeID: "a", TargetNodeID: "b"},
			{SourceNodeID: "b", TargetNodeID: "c"},
		},
	}))

	q := &mocks.MockQueue{}

	return &fixture{
		store:   store,
		queue:   q,
		service: control.NewService(store, store.WorkflowRepository(), q, slog.New(slog.DiscardHandler)),
	}
}

// executionIn creates an execution of wf-1 and walks it to status. A paused execution has been
// released by its worker.
func (f *fixture) executionIn(t *testing.T, status models.ExecutionStatus) *models.Execution {
	t.Helper()

	execution := persistencetest.NewExecution(t, "wf-1", time.Now())
	repo := f.store.ExecutionRepository()
	require.NoError(t, repo.CreateExecution(t.Context(), execution))

	var path []models.ExecutionStatus

	switch status {
	case models.ExecutionStatusPending:
	case models.ExecutionStatusRunning:
		path = []models.ExecutionStatus{models.ExecutionStatusRunning}
	case models.ExecutionStatusPaused:
		path = []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPaused}
	case models.ExecutionStatusCompleted:
		path = []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusCompleted}
	case models.ExecutionStatusFailed:
		path = []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusFailed}
	}

	for _, to := range path {
		_, err := repo.TransitionExecution(t.Context(),
			models.NewExecutionTransition(execution.ID, to, "boom", time.Now().UTC()))
		require.NoError(t, err)
	}

	if status == models.ExecutionStatusPaused {
		_, err := repo.TransitionExecution(t.Context(),
			models.NewReleaseTransition(execution.ID, models.ExecutionStatusPaused, 0, time.Now().UTC()))
		require.NoError(t, err)
	}

	return execution
}

// heldPaused creates a paused execution whose worker is still inside a node.
func (f *fixture) heldPaused(t *testing.T) *models.Execution {
	t.Helper()

	execution := f.executionIn(t, models.ExecutionStatusRunning)

	got, err := f.service.Pause(t.Context(), execution.ID)
	require.NoError(t, err)
	require.False(t, got.Released)

	return execution
}

func (f *fixture) status(t *testing.T, id string) models.ExecutionStatus {
	t.Helper()

	execution, err := f.store.ExecutionRepository().GetExecution(t.Context(), id)
	require.NoError(t, err)

	return execution.Status
}

func TestService_Pause(t *testing.T) {
	tests := []struct {
		from    models.ExecutionStatus
		wantErr bool
	}{
		{models.ExecutionStatusRunning, false},
		{models.ExecutionStatusPending, true},
		{models.ExecutionStatusPaused, true},
		{models.ExecutionStatusCompleted, true},
		{models.ExecutionStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			f := newFixture(t)
			execution := f.executionIn(t, tt.from)

			got, err := f.service.Pause(t.Context(), execution.ID)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, persistence.IsInvalidTransition(err))
				assert.Equal(t, tt.from, f.status(t, execution.ID))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, models.ExecutionStatusPaused, got.Status)
			assert.Nil(t, got.FinishedAt)
		})
	}
}

func TestService_ResumeReenqueues(t *testing.T) {
	f := newFixture(t)
	execution := f.executionIn(t, models.ExecutionStatusPaused)

	f.queue.On("Enqueue", mock.Anything, queue.NewJob(execution.ID, "wf-1").AtGeneration(1)).Return(nil).Once()

	got, err := f.service.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, 1, got.Generation)
	assert.False(t, got.Released)

	f.queue.AssertExpectations(t)
}

func TestService_ResumeLeavesHeldExecutionToItsWorker(t *testing.T) {
	f := newFixture(t)
	execution := f.heldPaused(t)

	got, err := f.service.Resume(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, 0, got.Generation)

	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestService_ResumeRollsBackWhenQueueIsDown(t *testing.T) {
	f := newFixture(t)
	execution := f.executionIn(t, models.ExecutionStatusPaused)

	f.queue.On("Enqueue", mock.Anything, mock.Anything).
		Return(queue.Unavailable(errors.New("connection refused"))).Once()

	_, err := f.service.Resume(t.Context(), execution.ID)
	require.Error(t, err)
	assert.True(t, queue.IsUnavailable(err))

	got, err := f.store.ExecutionRepository().GetExecution(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, got.Status)
	assert.True(t, got.Released)
	assert.Equal(t, 2, got.Generation, "a job that may have been published is stale")
}

func TestService_ResumeRequiresPaused(t *testing.T) {
	f := newFixture(t)
	execution := f.executionIn(t, models.ExecutionStatusRunning)

	_, err := f.service.Resume(t.Context(), execution.ID)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))
	f.queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestService_CancelRunning(t *testing.T) {
	f := newFixture(t)
	execution := f.executionIn(t, models.ExecutionStatusRunning)

	got, err := f.service.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCanceled())
	assert.NotNil(t, got.FinishedAt)

	rows, err := f.store.NodeExecutionRepository().NodeExecutions(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Empty(t, rows, "the owning worker skips nodes of a running execution")
}

func TestService_CancelPausedSkipsUnvisitedNodes(t *testing.T) {
	f := newFixture(t)
	execution := f.executionIn(t, models.ExecutionStatusPaused)

	finished := time.Now().UTC()
	require.NoError(t, f.store.NodeExecutionRepository().SaveNodeExecution(t.Context(), &models.NodeExecution{
		ID:          "row-a",
		ExecutionID: execution.ID,
		NodeID:      "a",
		Status:      models.NodeStatusCompleted,
		Attempt:     1,
		StartedAt:   &finished,
		FinishedAt:  &finished,
	}))

	got, err := f.service.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCanceled())
	assert.Equal(t, models.CancellationError, got.Error)

	rows, err := f.store.NodeExecutionRepository().NodeExecutions(t.Context(), execution.ID)
	require.NoError(t, err)

	statuses := map[string]models.NodeStatus{}
	for _, row := range rows {
		statuses[row.NodeID] = row.Status
	}

	assert.Equal(t, map[string]models.NodeStatus{
		"a": models.NodeStatusCompleted,
		"b": models.NodeStatusSkipped,
		"c": models.NodeStatusSkipped,
	}, statuses)
}

func TestService_CancelHeldPausedLeavesNodesToItsWorker(t *testing.T) {
	f := newFixture(t)
	execution := f.heldPaused(t)

	got, err := f.service.Cancel(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.True(t, got.IsCanceled())

	rows, err := f.store.NodeExecutionRepository().NodeExecutions(t.Context(), execution.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_CancelRejectsOtherStates(t *testing.T) {
	for _, from := range []models.ExecutionStatus{
		models.ExecutionStatusPending,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusFailed,
	} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t)
			execution := f.executionIn(t, from)

			_, err := f.service.Cancel(t.Context(), execution.ID)
			require.Error(t, err)
			assert.True(t, persistence.IsInvalidTransition(err))
			assert.Equal(t, from, f.status(t, execution.ID))
		})
	}
}

func TestService_UnknownExecution(t *testing.T) {
	f := newFixture(t)

	operations := map[string]func(ctx context.Context, id string) (*models.Execution, error){
		"pause":  f.service.Pause,
		"resume": f.service.Resume,
		"cancel": f.service.Cancel,
	}

	for name, operation := range operations {
		t.Run(name, func(t *testing.T) {
			_, err := operation(t.Context(), "missing")
			require.Error(t, err)
			assert.True(t, persistence.IsExecutionNotFound(err))
		})
	}
}
