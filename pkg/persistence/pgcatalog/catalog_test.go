package pgcatalog_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/pgcatalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupCatalog(t *testing.T) (*pgcatalog.Catalog, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("editor_test"),
		postgres.WithUsername("editor"),
		postgres.WithPassword("editor"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	catalog, err := pgcatalog.Connect(ctx, logger, databaseURL)
	require.NoError(t, err)
	t.Cleanup(catalog.Close)

	require.NoError(t, catalog.CreateSchema(ctx))

	return catalog, ctx
}

func TestCatalog_GetWorkflow(t *testing.T) {
	catalog, ctx := setupCatalog(t)

	workflow := &models.Workflow{
		ID:   "wf-1",
		Name: "Price alert",
		Nodes: []*models.WorkflowNode{
			{ID: "monitor", Type: "http", Name: "Price monitor", Config: map[string]any{"url": "http://prices.test"}},
			{ID: "notify", Type: "log", Optional: true},
		},
		Connections: []*models.Connection{
			{SourceNodeID: "monitor", TargetNodeID: "notify", TargetPort: "price"},
		},
	}

	require.NoError(t, catalog.SaveWorkflow(ctx, workflow))

	got, err := catalog.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Price alert", got.Name)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "monitor", got.Nodes[0].ID)
	assert.Equal(t, "http://prices.test", got.Nodes[0].Config["url"])
	assert.True(t, got.Nodes[1].Optional)
	require.Len(t, got.Connections, 1)
	assert.Equal(t, "price", got.Connections[0].Port())

	// Saving again replaces the graph.
	workflow.Nodes = workflow.Nodes[:1]
	workflow.Connections = nil
	require.NoError(t, catalog.SaveWorkflow(ctx, workflow))

	got, err = catalog.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Connections)
}

func TestCatalog_GetWorkflowNotFound(t *testing.T) {
	catalog, ctx := setupCatalog(t)

	_, err := catalog.GetWorkflow(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
