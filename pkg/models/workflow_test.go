package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID:   "wf-1",
		Name: "linear",
		Nodes: []*Node{
			{ID: "n1", Uses: UsesStart},
			{ID: "n2", Uses: UsesHTTPRequest, Action: map[string]any{"url": "http://example.com"}},
			{ID: "n3", Uses: UsesEnd},
		},
		Edges: []*Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}
}

func TestWorkflowValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(w *Workflow)
		wantErr string
	}{
		{
			name:   "valid linear workflow",
			mutate: func(w *Workflow) {},
		},
		{
			name: "missing workflow id",
			mutate: func(w *Workflow) {
				w.ID = ""
			},
			wantErr: "workflow ID is required",
		},
		{
			name: "no start node",
			mutate: func(w *Workflow) {
				w.Nodes[0].Uses = UsesHTTPRequest
			},
			wantErr: "exactly one start node",
		},
		{
			name: "two start nodes",
			mutate: func(w *Workflow) {
				w.Nodes[1].Uses = UsesStart
			},
			wantErr: "exactly one start node",
		},
		{
			name: "no end node",
			mutate: func(w *Workflow) {
				w.Nodes[2].Uses = UsesHTTPRequest
			},
			wantErr: "at least one end node",
		},
		{
			name: "duplicate node id",
			mutate: func(w *Workflow) {
				w.Nodes[1].ID = "n1"
			},
			wantErr: "duplicate node ID",
		},
		{
			name: "dangling edge source",
			mutate: func(w *Workflow) {
				w.Edges[0].Source = "missing"
			},
			wantErr: "non-existent source node",
		},
		{
			name: "dangling edge target",
			mutate: func(w *Workflow) {
				w.Edges[1].Target = "missing"
			},
			wantErr: "non-existent target node",
		},
		{
			name: "self loop",
			mutate: func(w *Workflow) {
				w.Edges[0].Target = "n1"
			},
			wantErr: "self-loop",
		},
		{
			name: "invalid handle on plain node",
			mutate: func(w *Workflow) {
				w.Edges[0].SourceHandle = HandleTrue
			},
			wantErr: "has no handle",
		},
		{
			name: "cycle",
			mutate: func(w *Workflow) {
				w.Edges = append(w.Edges, &Edge{ID: "e3", Source: "n3", Target: "n2"})
			},
			wantErr: "cycle detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := linearWorkflow()
			tt.mutate(w)
			err := w.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
		})
	}
}

func TestWorkflowValidateIfElseHandles(t *testing.T) {
	w := &Workflow{
		ID: "wf-cond",
		Nodes: []*Node{
			{ID: "n1", Uses: UsesStart},
			{ID: "n2", Uses: UsesIfElse, Action: map[string]any{"conditions": []any{}}},
			{ID: "n3", Uses: UsesEnd},
			{ID: "n4", Uses: UsesEnd},
		},
		Edges: []*Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: HandleTrue},
			{ID: "e3", Source: "n2", Target: "n4", SourceHandle: HandleFalse},
		},
	}
	require.NoError(t, w.Validate())

	// if_else edges must name a branch handle.
	w.Edges[1].SourceHandle = ""
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "if_else source requires handle")
}

func TestWorkflowValidateDiamondReconvergence(t *testing.T) {
	// Both branches of an if_else targeting the same downstream node is
	// allowed; it is still a DAG.
	w := &Workflow{
		ID: "wf-diamond",
		Nodes: []*Node{
			{ID: "n1", Uses: UsesStart},
			{ID: "n2", Uses: UsesIfElse},
			{ID: "n5", Uses: UsesEnd},
		},
		Edges: []*Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n5", SourceHandle: HandleTrue},
			{ID: "e3", Source: "n2", Target: "n5", SourceHandle: HandleFalse},
		},
	}
	assert.NoError(t, w.Validate())
}

func TestWorkflowLookups(t *testing.T) {
	w := linearWorkflow()

	assert.Equal(t, "n1", w.StartNode().ID)
	assert.Equal(t, "n2", w.Node("n2").ID)
	assert.Nil(t, w.Node("missing"))

	incoming := w.IncomingEdges("n2")
	require.Len(t, incoming, 1)
	assert.Equal(t, "e1", incoming[0].ID)

	outgoing := w.OutgoingEdges("n2")
	require.Len(t, outgoing, 1)
	assert.Equal(t, "e2", outgoing[0].ID)

	assert.Equal(t, HandleSource, (&Edge{}).Handle())
}

func TestProcessClone(t *testing.T) {
	p := &Process{
		ID:      "p1",
		State:   ProcessStateRunning,
		Outputs: map[string]any{"n1": map[string]any{}},
		Tasks:   map[string]*Task{"n1": {NodeID: "n1", State: TaskStateCompleted}},
		Env:     map[string]string{"K": "v"},
	}
	clone := p.Clone()
	clone.Outputs["n2"] = "x"
	clone.Tasks["n1"].State = TaskStateFailed
	clone.Env["K"] = "changed"

	assert.NotContains(t, p.Outputs, "n2")
	assert.Equal(t, TaskStateCompleted, p.Tasks["n1"].State)
	assert.Equal(t, "v", p.Env["K"])
}

func TestStateTerminality(t *testing.T) {
	assert.True(t, ProcessStateCompleted.IsTerminal())
	assert.True(t, ProcessStateFailed.IsTerminal())
	assert.True(t, ProcessStateCancelled.IsTerminal())
	assert.False(t, ProcessStateRunning.IsTerminal())
	assert.False(t, ProcessStatePending.IsTerminal())

	assert.True(t, TaskStateSkipped.IsTerminal())
	assert.False(t, TaskStateRunning.IsTerminal())
}
