// Package models defines the core domain models for workflow execution
package models

// Workflow is the read-only graph snapshot the engine executes. Workflows are owned by the
// editor; the engine only loads them by id.
type Workflow struct {
	ID          string          `json:"id"          yaml:"id"          validate:"required"`
	Name        string          `json:"name"        yaml:"name"`
	Nodes       []*WorkflowNode `json:"nodes"       yaml:"nodes"       validate:"dive"`
	Connections []*Connection   `json:"connections" yaml:"connections" validate:"dive"`
}

// WorkflowNode is a block instance inside a workflow graph.
type WorkflowNode struct {
	ID     string         `json:"id"                 yaml:"id"       validate:"required"`
	Type   string         `json:"type"               yaml:"type"     validate:"required"`
	Name   string         `json:"name,omitempty"     yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty"   yaml:"config,omitempty"`
	// Optional nodes do not fail the execution when they fail; their downstream path is skipped.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Connection wires the output of one node into the input of another.
type Connection struct {
	SourceNodeID string `json:"source_node_id"        yaml:"source_node_id" validate:"required"`
	TargetNodeID string `json:"target_node_id"        yaml:"target_node_id" validate:"required"`
	// TargetPort is the key under which the source output is placed in the target input.
	// Defaults to the source node id.
	TargetPort string `json:"target_port,omitempty" yaml:"target_port,omitempty"`
}

// Port returns the input key used for this connection.
func (c *Connection) Port() string {
	if c.TargetPort != "" {
		return c.TargetPort
	}

	return c.SourceNodeID
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}
