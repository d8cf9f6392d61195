package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"gopkg.in/yaml.v3"
)

const workflowsDir = "workflows"

// WorkflowRepository loads workflow definitions from <root>/workflows/<id>.{json,yaml,yml}.
type WorkflowRepository struct {
	root string // File system root for storing workflows
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// GetWorkflow returns the workflow definition with the given id.
func (wr *WorkflowRepository) GetWorkflow(_ context.Context, workflowID string) (*models.Workflow, error) {
	err := validateID(workflowID)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetWorkflow", workflowID, persistence.ErrWorkflowNotFound)
	}

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(wr.root, workflowsDir, workflowID+ext)

		data, err := os.ReadFile(path) // #nosec G304 -- id validated above
		if err != nil {
			if isNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("failed to read workflow %s: %w", workflowID, err)
		}

		var workflow models.Workflow

		if ext == ".json" {
			err = json.Unmarshal(data, &workflow)
		} else {
			err = yaml.Unmarshal(data, &workflow)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
		}

		if workflow.ID == "" {
			workflow.ID = workflowID
		}

		return &workflow, nil
	}

	return nil, persistence.NewWorkflowError("GetWorkflow", workflowID, persistence.ErrWorkflowNotFound)
}

// SaveWorkflow writes the workflow as JSON, replacing any previous definition.
func (wr *WorkflowRepository) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	err := validateID(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("SaveWorkflow", workflow.ID, err)
	}

	return writeJSON(filepath.Join(wr.root, workflowsDir, workflow.ID+".json"), workflow)
}
