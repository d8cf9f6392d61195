// Package models defines core node-based workflow models for graph execution
package models

import (
	"encoding/json"
	"time"
)

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// IsTerminal reports whether the node reached a final state within its execution.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// NodeExecution records the execution of a single workflow node within an Execution.
// There is one row per (ExecutionID, NodeID); Attempt counts block-runtime invocations.
type NodeExecution struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id"`
	Status      NodeStatus      `json:"status"`
	Attempt     int             `json:"attempt"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

// Duration returns how long a finished node execution took.
func (n *NodeExecution) Duration() (time.Duration, bool) {
	if n.StartedAt == nil || n.FinishedAt == nil {
		return 0, false
	}

	return n.FinishedAt.Sub(*n.StartedAt), true
}

// ErrorMessage returns the stored error or an empty string.
func (n *NodeExecution) ErrorMessage() string {
	if n.Error == nil {
		return ""
	}

	return *n.Error
}
