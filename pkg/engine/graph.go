package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/flowrun/pkg/models"
)

// ErrInvalidGraph is returned for workflows that cannot be ordered: cycles, dangling
// connections or duplicate node ids.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// Graph is a workflow in execution order.
type Graph struct {
	// Order lists every node so that each node comes after all of its upstream nodes. Among nodes
	// that are ready at the same time the smaller id comes first.
	Order    []*models.WorkflowNode
	incoming map[string][]*models.Connection
}

// Incoming returns the connections that feed nodeID, in workflow order.
func (g *Graph) Incoming(nodeID string) []*models.Connection {
	return g.incoming[nodeID]
}

// NodeIDs returns the node ids in execution order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.Order))
	for i, node := range g.Order {
		ids[i] = node.ID
	}

	return ids
}

// BuildGraph orders the workflow with Kahn's algorithm.
func BuildGraph(workflow *models.Workflow) (*Graph, error) {
	nodes := make(map[string]*models.WorkflowNode, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		if _, exists := nodes[node.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, node.ID)
		}

		nodes[node.ID] = node
	}

	incoming := make(map[string][]*models.Connection, len(nodes))
	outgoing := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))

	for _, conn := range workflow.Connections {
		if _, ok := nodes[conn.SourceNodeID]; !ok {
			return nil, fmt.Errorf("%w: connection from unknown node %q", ErrInvalidGraph, conn.SourceNodeID)
		}

		if _, ok := nodes[conn.TargetNodeID]; !ok {
			return nil, fmt.Errorf("%w: connection to unknown node %q", ErrInvalidGraph, conn.TargetNodeID)
		}

		incoming[conn.TargetNodeID] = append(incoming[conn.TargetNodeID], conn)
		outgoing[conn.SourceNodeID] = append(outgoing[conn.SourceNodeID], conn.TargetNodeID)
		inDegree[conn.TargetNodeID]++
	}

	var ready []string

	for id := range nodes {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]*models.WorkflowNode, 0, len(nodes))

	for len(ready) > 0 {
		slices.Sort(ready)

		id := ready[0]
		ready = ready[1:]

		order = append(order, nodes[id])

		for _, target := range outgoing[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				ready = append(ready, target)
			}
		}
	}

	if len(order) < len(nodes) {
		var cyclic []string

		for id := range nodes {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}

		slices.Sort(cyclic)

		return nil, fmt.Errorf("%w: cycle detected among nodes %v", ErrInvalidGraph, cyclic)
	}

	return &Graph{Order: order, incoming: incoming}, nil
}
