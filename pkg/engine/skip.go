package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/google/uuid"
)

// SkipUnvisited closes the node executions of a stopped execution. Nodes without a row and
// pending rows become skipped; a running row, left behind by an interrupted attempt, becomes
// failed with the cancellation error. Terminal rows are left untouched.
func SkipUnvisited(
	ctx context.Context,
	nodes persistence.NodeExecutionRepository,
	executionID string,
	nodeIDs []string,
	at time.Time,
) error {
	existing, err := nodes.NodeExecutions(ctx, executionID)
	if err != nil {
		return err
	}

	rows := make(map[string]*models.NodeExecution, len(existing))
	for _, row := range existing {
		rows[row.NodeID] = row
	}

	for _, nodeID := range nodeIDs {
		row := rows[nodeID]

		switch {
		case row == nil:
			row = &models.NodeExecution{
				ID:          uuid.Must(uuid.NewV7()).String(),
				ExecutionID: executionID,
				NodeID:      nodeID,
				Status:      models.NodeStatusSkipped,
			}
		case row.Status.IsTerminal():
			continue
		case row.Status == models.NodeStatusRunning:
			message := models.CancellationError
			row.Status = models.NodeStatusFailed
			row.Error = &message
		default:
			row.Status = models.NodeStatusSkipped
		}

		finishedAt := at
		row.FinishedAt = &finishedAt

		err := nodes.SaveNodeExecution(ctx, row)
		if err != nil {
			return fmt.Errorf("close node %s: %w", nodeID, err)
		}
	}

	return nil
}
