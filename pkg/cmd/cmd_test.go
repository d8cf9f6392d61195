package cmd_test

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/queue/pubsub"
	"github.com/dukex/flowrun/pkg/queue/redisstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence_File(t *testing.T) {
	root := t.TempDir()

	store, err := cmd.NewPersistence(t.Context(), slog.New(slog.DiscardHandler), "file://"+root)
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, store)
	assert.NoError(t, store.HealthCheck(t.Context()))
}

func TestNewCatalog_File(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, file.NewWorkflowRepository(root).SaveWorkflow(t.Context(), &models.Workflow{
		ID:    "wf-1",
		Nodes: []*models.WorkflowNode{{ID: "a", Type: "log"}},
	}))

	catalog, closeCatalog, err := cmd.NewCatalog(t.Context(), slog.New(slog.DiscardHandler), "file://"+root)
	require.NoError(t, err)
	defer closeCatalog()

	workflow, err := catalog.GetWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "a", workflow.Nodes[0].ID)
}

func TestNewQueue(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name     string
		config   cmd.QueueConfig
		wantType any
		wantErr  bool
	}{
		{
			name:     "redis",
			config:   cmd.QueueConfig{Provider: "redis", RedisURL: "redis://localhost:6379/0"},
			wantType: &redisstream.Queue{},
		},
		{
			name:     "kafka",
			config:   cmd.QueueConfig{Provider: "kafka", KafkaBrokers: "localhost:9092"},
			wantType: &pubsub.Queue{},
		},
		{
			name:     "gochannel",
			config:   cmd.QueueConfig{Provider: "gochannel"},
			wantType: &pubsub.Queue{},
		},
		{
			name:    "invalid redis url",
			config:  cmd.QueueConfig{Provider: "redis", RedisURL: "http://localhost"},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			config:  cmd.QueueConfig{Provider: "rabbitmq"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := cmd.NewQueue(logger, tt.config)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, tt.wantType, q)
			assert.NoError(t, q.Close())
		})
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := cmd.NewRegistry(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"http", "log", "transform"}, reg.Types())
}

func TestNewPersistence_DefaultsToFile(t *testing.T) {
	store, err := cmd.NewPersistence(t.Context(), slog.New(slog.DiscardHandler), filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, store)
}

func TestNewRetryPolicy(t *testing.T) {
	policy, err := cmd.NewRetryPolicy(3, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, policy.Delays())

	_, err = cmd.NewRetryPolicy(0, 2, time.Second)
	assert.Error(t, err)
}

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := cmd.NewTracer(t.Context(), false, "flowrun-test")
	require.NoError(t, err)

	_, span := tracer.Start(t.Context(), "noop")
	span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, shutdown(t.Context()))
}
