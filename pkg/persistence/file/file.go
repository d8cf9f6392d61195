// Package file provides a file-based Execution Store and workflow catalog for development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowrun/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system. It is safe for
// concurrent use within one process; multiple processes must not share a root.
type Persistence struct {
	root          string
	mu            sync.Mutex
	executionRepo *ExecutionRepository
	nodeRepo      *NodeExecutionRepository
	workflowRepo  *WorkflowRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{root: cleanRoot}
	fp.executionRepo = &ExecutionRepository{persistence: fp}
	fp.nodeRepo = &NodeExecutionRepository{persistence: fp}
	fp.workflowRepo = NewWorkflowRepository(cleanRoot)

	return fp
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// ExecutionRepository returns the execution repository.
func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

// NodeExecutionRepository returns the node execution repository.
func (fp *Persistence) NodeExecutionRepository() persistence.NodeExecutionRepository {
	return fp.nodeRepo
}

// ExecutionReader returns the analytics reader.
func (fp *Persistence) ExecutionReader() persistence.ExecutionReader {
	return fp.executionRepo
}

// WorkflowRepository returns the workflow catalog stored under <root>/workflows.
func (fp *Persistence) WorkflowRepository() *WorkflowRepository {
	return fp.workflowRepo
}

// validateID validates that the ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (fp *Persistence) path(dir, id string) string {
	return filepath.Join(fp.root, dir, id+".json")
}

// readJSON decodes the file into target, returning os.ErrNotExist when missing.
func readJSON(path string, target any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- ids are validated before building paths
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, target)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}

// writeJSON atomically replaces path with the JSON encoding of value.
func writeJSON(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}

	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
