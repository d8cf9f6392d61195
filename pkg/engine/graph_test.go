package engine_test

import (
	"testing"

	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string) *models.WorkflowNode {
	return &models.WorkflowNode{ID: id, Type: "echo", Name: id}
}

func connect(source, target string) *models.Connection {
	return &models.Connection{SourceNodeID: source, TargetNodeID: target}
}

func TestBuildGraph(t *testing.T) {
	tests := []struct {
		name     string
		workflow *models.Workflow
		want     []string
		wantErr  string
	}{
		{
			name: "chain",
			workflow: &models.Workflow{
				Nodes:       []*models.WorkflowNode{node("c"), node("b"), node("a")},
				Connections: []*models.Connection{connect("a", "b"), connect("b", "c")},
			},
			want: []string{"a", "b", "c"},
		},
		{
			name: "diamond orders ready nodes by id",
			workflow: &models.Workflow{
				Nodes: []*models.WorkflowNode{node("start"), node("right"), node("left"), node("end")},
				Connections: []*models.Connection{
					connect("start", "right"),
					connect("start", "left"),
					connect("left", "end"),
					connect("right", "end"),
				},
			},
			want: []string{"start", "left", "right", "end"},
		},
		{
			name: "disconnected nodes",
			workflow: &models.Workflow{
				Nodes: []*models.WorkflowNode{node("z"), node("y"), node("x")},
			},
			want: []string{"x", "y", "z"},
		},
		{
			name:     "empty workflow",
			workflow: &models.Workflow{},
			want:     []string{},
		},
		{
			name: "cycle",
			workflow: &models.Workflow{
				Nodes:       []*models.WorkflowNode{node("a"), node("b"), node("c")},
				Connections: []*models.Connection{connect("a", "b"), connect("b", "c"), connect("c", "b")},
			},
			wantErr: "cycle detected among nodes [b c]",
		},
		{
			name: "self loop",
			workflow: &models.Workflow{
				Nodes:       []*models.WorkflowNode{node("a")},
				Connections: []*models.Connection{connect("a", "a")},
			},
			wantErr: "cycle detected",
		},
		{
			name: "dangling target",
			workflow: &models.Workflow{
				Nodes:       []*models.WorkflowNode{node("a")},
				Connections: []*models.Connection{connect("a", "ghost")},
			},
			wantErr: `connection to unknown node "ghost"`,
		},
		{
			name: "dangling source",
			workflow: &models.Workflow{
				Nodes:       []*models.WorkflowNode{node("a")},
				Connections: []*models.Connection{connect("ghost", "a")},
			},
			wantErr: `connection from unknown node "ghost"`,
		},
		{
			name: "duplicate node id",
			workflow: &models.Workflow{
				Nodes: []*models.WorkflowNode{node("a"), node("a")},
			},
			wantErr: `duplicate node id "a"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := engine.BuildGraph(tt.workflow)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, engine.ErrInvalidGraph)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, graph.NodeIDs())
		})
	}
}

func TestGraph_Incoming(t *testing.T) {
	workflow := &models.Workflow{
		Nodes: []*models.WorkflowNode{node("a"), node("b"), node("c")},
		Connections: []*models.Connection{
			connect("a", "c"),
			{SourceNodeID: "b", TargetNodeID: "c", TargetPort: "right"},
		},
	}

	graph, err := engine.BuildGraph(workflow)
	require.NoError(t, err)

	incoming := graph.Incoming("c")
	require.Len(t, incoming, 2)
	assert.Equal(t, "a", incoming[0].Port())
	assert.Equal(t, "right", incoming[1].Port())
	assert.Empty(t, graph.Incoming("a"))
}
