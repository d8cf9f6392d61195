// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/persistence/pgcatalog"
	"github.com/dukex/flowrun/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the Execution Store selected by the URL scheme.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgresql store: %w", err)
		}

		return store, nil
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

// NewCatalog opens the workflow catalog. PostgreSQL URLs read the editor tables through a pgx
// pool; anything else reads workflow files under the given root. The returned func releases it.
func NewCatalog(ctx context.Context, logger *slog.Logger, catalogURL string) (persistence.WorkflowRepository, func(), error) {
	provider := parsePersistenceProvider(catalogURL)

	switch provider {
	case "postgres", "postgresql":
		catalog, err := pgcatalog.Connect(ctx, logger, catalogURL)
		if err != nil {
			return nil, nil, err
		}

		return catalog, catalog.Close, nil
	default:
		return file.NewWorkflowRepository(strings.Replace(catalogURL, "file://", "", 1)), func() {}, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}
