package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowrun/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCodec(t *testing.T) {
	payload, err := queue.EncodeJob(queue.NewJob("exec-1", "wf-1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"execution_id":"exec-1","workflow_id":"wf-1"}`, string(payload))

	job, err := queue.DecodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, queue.NewJob("exec-1", "wf-1"), job)

	resumed := queue.NewJob("exec-1", "wf-1").AtGeneration(2)

	payload, err = queue.EncodeJob(resumed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"execution_id":"exec-1","workflow_id":"wf-1","generation":2}`, string(payload))

	job, err = queue.DecodeJob(payload)
	require.NoError(t, err)
	assert.Equal(t, resumed, job)
}

func TestDecodeJob_Poison(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{{`},
		{"untyped payload", `["exec-1"]`},
		{"missing execution id", `{"version":1,"workflow_id":"wf-1"}`},
		{"missing workflow id", `{"version":1,"execution_id":"exec-1"}`},
		{"missing version", `{"execution_id":"exec-1","workflow_id":"wf-1"}`},
		{"unknown version", `{"version":7,"execution_id":"exec-1","workflow_id":"wf-1"}`},
		{"negative generation", `{"version":1,"execution_id":"exec-1","workflow_id":"wf-1","generation":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := queue.DecodeJob([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, queue.ErrPoison)
			assert.Equal(t, queue.OutcomeDeadLetter, queue.Decide(err))
		})
	}
}

func TestEncodeJob_RejectsInvalid(t *testing.T) {
	_, err := queue.EncodeJob(queue.Job{ExecutionID: "exec-1"})
	assert.Error(t, err)
}

func TestDecide(t *testing.T) {
	assert.Equal(t, queue.OutcomeAck, queue.Decide(nil))
	assert.Equal(t, queue.OutcomeDeadLetter, queue.Decide(fmt.Errorf("handler: %w", queue.ErrPoison)))
	assert.Equal(t, queue.OutcomeRedeliver, queue.Decide(errors.New("store down")))
	assert.Equal(t, "redeliver", queue.OutcomeRedeliver.String())
}

func TestConn(t *testing.T) {
	dials, closes := 0, 0
	fail := true

	conn := queue.NewConn(
		func(context.Context) (int, error) {
			dials++
			if fail {
				return 0, errors.New("connection refused")
			}

			return dials, nil
		},
		func(int) error {
			closes++

			return nil
		},
	)

	_, err := conn.Get(context.Background())
	require.Error(t, err)
	assert.True(t, queue.IsUnavailable(err))

	fail = false

	first, err := conn.Get(context.Background())
	require.NoError(t, err)

	again, err := conn.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again, "handle is cached")
	assert.Equal(t, 2, dials)

	require.NoError(t, conn.Reset())
	assert.Equal(t, 1, closes)

	redialed, err := conn.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, redialed)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, 2, closes)
}
