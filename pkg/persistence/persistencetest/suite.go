// Package persistencetest holds behaviour tests shared by every Execution Store backend.
package persistencetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) persistence.Persistence

// NewExecution builds a pending execution for workflowID started at startedAt.
func NewExecution(t *testing.T, workflowID string, startedAt time.Time) *models.Execution {
	t.Helper()

	id, err := uuid.NewV7()
	require.NoError(t, err)

	triggeredBy := "tester"

	return &models.Execution{
		ID:          id.String(),
		WorkflowID:  workflowID,
		Status:      models.ExecutionStatusPending,
		TriggeredBy: &triggeredBy,
		StartedAt:   startedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:   startedAt.UTC().Truncate(time.Millisecond),
	}
}

// Run executes the shared store behaviour tests against the given factory.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("create and get execution", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, store.ExecutionRepository().CreateExecution(ctx, execution))

		got, err := store.ExecutionRepository().GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, execution.ID, got.ID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, models.ExecutionStatusPending, got.Status)
		require.NotNil(t, got.TriggeredBy)
		assert.Equal(t, "tester", *got.TriggeredBy)
		assert.Nil(t, got.FinishedAt)
		assert.Empty(t, got.Error)
		assert.WithinDuration(t, execution.StartedAt, got.StartedAt, time.Millisecond)
	})

	t.Run("duplicate execution id is rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, store.ExecutionRepository().CreateExecution(ctx, execution))

		err := store.ExecutionRepository().CreateExecution(ctx, execution)
		assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
	})

	t.Run("missing execution", func(t *testing.T) {
		store := newStore(t)

		_, err := store.ExecutionRepository().GetExecution(context.Background(), "does-not-exist")
		assert.True(t, persistence.IsExecutionNotFound(err))

		_, err = store.ExecutionRepository().TransitionExecution(context.Background(),
			models.NewExecutionTransition("does-not-exist", models.ExecutionStatusRunning, "", time.Now()))
		assert.True(t, persistence.IsExecutionNotFound(err))

		_, err = store.NodeExecutionRepository().NodeExecutions(context.Background(), "does-not-exist")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("transitions follow the state machine", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		repo := store.ExecutionRepository()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, repo.CreateExecution(ctx, execution))

		// pending -> completed is not allowed
		_, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusCompleted, "", time.Now()))
		assert.True(t, persistence.IsInvalidTransition(err))

		running, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, running.Status)
		assert.Nil(t, running.FinishedAt)

		// running -> running happens exactly once
		_, err = repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
		assert.True(t, persistence.IsInvalidTransition(err))

		paused, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusPaused, "", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

		_, err = repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
		require.NoError(t, err)

		failed, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusFailed, "boom", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, failed.Status)
		assert.Equal(t, "boom", failed.Error)
		require.NotNil(t, failed.FinishedAt)

		// nothing leaves a terminal state
		for _, to := range []models.ExecutionStatus{
			models.ExecutionStatusRunning, models.ExecutionStatusPaused,
			models.ExecutionStatusCompleted, models.ExecutionStatusFailed,
		} {
			current, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, to, "again", time.Now()))
			assert.True(t, persistence.IsInvalidTransition(err), "to %s", to)
			assert.Equal(t, models.ExecutionStatusFailed, current.Status)
		}

		got, err := repo.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, "boom", got.Error)
	})

	t.Run("completed execution has finished_at and no error", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		repo := store.ExecutionRepository()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, repo.CreateExecution(ctx, execution))

		_, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
		require.NoError(t, err)

		completed, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusCompleted, "ignored", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)
		assert.NotNil(t, completed.FinishedAt)
		assert.Empty(t, completed.Error)
	})

	t.Run("release hands a paused execution to the next generation", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		repo := store.ExecutionRepository()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, repo.CreateExecution(ctx, execution))

		_, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
		require.NoError(t, err)

		_, err = repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusPaused, "", time.Now()))
		require.NoError(t, err)

		// a job of another generation cannot release it
		_, err = repo.TransitionExecution(ctx, models.NewReleaseTransition(execution.ID, models.ExecutionStatusPaused, 7, time.Now()))
		assert.True(t, persistence.IsInvalidTransition(err))

		released, err := repo.TransitionExecution(ctx, models.NewReleaseTransition(execution.ID, models.ExecutionStatusPaused, 0, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusPaused, released.Status)
		assert.Equal(t, 1, released.Generation)
		assert.True(t, released.Released)

		_, err = repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()).WhenReleased(false))
		assert.True(t, persistence.IsInvalidTransition(err))

		resumed, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()).WhenReleased(true))
		require.NoError(t, err)
		assert.Equal(t, 1, resumed.Generation)
		assert.False(t, resumed.Released)

		// the generation that was released can no longer finish the execution
		_, err = repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusCompleted, "", time.Now()).OwnedBy(0))
		assert.True(t, persistence.IsInvalidTransition(err))

		completed, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusCompleted, "", time.Now()).OwnedBy(1))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCompleted, completed.Status)

		got, err := repo.GetExecution(ctx, execution.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Generation)
	})

	t.Run("concurrent transitions apply exactly once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		repo := store.ExecutionRepository()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, repo.CreateExecution(ctx, execution))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)

		for range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, err := repo.TransitionExecution(ctx, models.NewExecutionTransition(execution.ID, models.ExecutionStatusRunning, "", time.Now()))
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, 1, successes)
	})

	t.Run("node execution upsert keeps one row per node", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		execution := NewExecution(t, "wf-1", time.Now())
		require.NoError(t, store.ExecutionRepository().CreateExecution(ctx, execution))

		repo := store.NodeExecutionRepository()
		startedAt := time.Now().UTC().Truncate(time.Millisecond)

		first := &models.NodeExecution{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			NodeID:      "a",
			Status:      models.NodeStatusRunning,
			Attempt:     1,
			StartedAt:   &startedAt,
			Input:       json.RawMessage(`{"x":1}`),
		}
		require.NoError(t, repo.SaveNodeExecution(ctx, first))

		second := &models.NodeExecution{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			NodeID:      "b",
			Status:      models.NodeStatusPending,
		}
		require.NoError(t, repo.SaveNodeExecution(ctx, second))

		finishedAt := startedAt.Add(time.Second)
		first.Status = models.NodeStatusCompleted
		first.Attempt = 2
		first.FinishedAt = &finishedAt
		first.Output = json.RawMessage(`{"y":2}`)
		require.NoError(t, repo.SaveNodeExecution(ctx, first))

		rows, err := repo.NodeExecutions(ctx, execution.ID)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "a", rows[0].NodeID)
		assert.Equal(t, models.NodeStatusCompleted, rows[0].Status)
		assert.Equal(t, 2, rows[0].Attempt)
		assert.JSONEq(t, `{"x":1}`, string(rows[0].Input))
		assert.JSONEq(t, `{"y":2}`, string(rows[0].Output))
		assert.Nil(t, rows[0].Error)

		duration, ok := rows[0].Duration()
		require.True(t, ok)
		assert.Equal(t, time.Second, duration)

		assert.Equal(t, "b", rows[1].NodeID)
		assert.Equal(t, models.NodeStatusPending, rows[1].Status)
		assert.Empty(t, rows[1].Output)
	})

	t.Run("window reads filter by workflow and start", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		recent := NewExecution(t, "wf-1", now.Add(-time.Hour))
		old := NewExecution(t, "wf-1", now.Add(-72*time.Hour))
		other := NewExecution(t, "wf-2", now.Add(-time.Hour))

		for _, execution := range []*models.Execution{recent, old, other} {
			require.NoError(t, store.ExecutionRepository().CreateExecution(ctx, execution))
			require.NoError(t, store.NodeExecutionRepository().SaveNodeExecution(ctx, &models.NodeExecution{
				ID:          uuid.NewString(),
				ExecutionID: execution.ID,
				NodeID:      "a",
				Status:      models.NodeStatusPending,
			}))
		}

		executions, err := store.ExecutionReader().ExecutionsSince(ctx, "wf-1", now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, recent.ID, executions[0].ID)

		nodeExecutions, err := store.ExecutionReader().NodeExecutionsSince(ctx, "wf-1", now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, nodeExecutions, 1)
		assert.Equal(t, recent.ID, nodeExecutions[0].ExecutionID)

		empty, err := store.ExecutionReader().ExecutionsSince(ctx, "unknown", now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("health check", func(t *testing.T) {
		store := newStore(t)

		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}
