package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
	"github.com/actflow/actflow/pkg/store"
)

func seedRunningProcess(t *testing.T, st store.Store, wf *models.Workflow, tasks []*models.Task) *models.Process {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, wf))

	now := time.Now()
	proc := &models.Process{
		ID:         "proc-resume",
		WorkflowID: wf.ID,
		State:      models.ProcessStateRunning,
		Outputs:    map[string]any{},
		Tasks:      map[string]*models.Task{},
		Env:        map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, task := range tasks {
		proc.Tasks[task.NodeID] = task
		if task.State == models.TaskStateCompleted {
			proc.Outputs[task.NodeID] = task.Output
		}
	}
	require.NoError(t, st.PutProcess(ctx, proc))
	for _, task := range tasks {
		require.NoError(t, st.PutTask(ctx, proc.ID, task))
	}
	return proc
}

func resumeWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "wf-resume",
		Nodes: []*models.Node{
			{ID: "n1", Uses: models.UsesStart},
			{ID: "n2", Uses: "task"},
			{ID: "n3", Uses: models.UsesEnd},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}
}

func TestResumeFailsTasksRunningAtRestart(t *testing.T) {
	st := store.NewMemoryStore()
	wf := resumeWorkflow()

	startedAt := time.Now().Add(-time.Minute)
	finished := time.Now().Add(-time.Minute)
	seedRunningProcess(t, st, wf, []*models.Task{
		{NodeID: "n1", State: models.TaskStateCompleted, Output: map[string]any{}, StartedAt: &finished, FinishedAt: &finished},
		{NodeID: "n2", State: models.TaskStateRunning, StartedAt: &startedAt},
	})

	reg := newRegistry(t)
	register(t, reg, "task", func(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
		return map[string]any{}, nil
	})
	eng := newTestEngine(t, reg, st)

	final, err := eng.Process(context.Background(), "proc-resume")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessStateFailed, final.State)
	assert.Equal(t, models.TaskStateFailed, final.Tasks["n2"].State)
	assert.Contains(t, final.Tasks["n2"].Error, "interrupted by restart")
	assert.Contains(t, final.Error, "interrupted by restart")
}

func TestResumeReemitsReadyForUnscheduledNodes(t *testing.T) {
	st := store.NewMemoryStore()
	wf := resumeWorkflow()

	// n1 completed before the crash; n2 was never scheduled. Resume must
	// re-emit its ready signal and drive the process to completion.
	finished := time.Now().Add(-time.Minute)
	seedRunningProcess(t, st, wf, []*models.Task{
		{NodeID: "n1", State: models.TaskStateCompleted, Output: map[string]any{}, StartedAt: &finished, FinishedAt: &finished},
	})

	reg := newRegistry(t)
	register(t, reg, "task", func(ctx context.Context, ec *executor.Context, action map[string]any) (any, error) {
		return map[string]any{"resumed": true}, nil
	})
	eng := newTestEngine(t, reg, st)

	require.Eventually(t, func() bool {
		final, err := eng.Process(context.Background(), "proc-resume")
		return err == nil && final.State == models.ProcessStateCompleted
	}, 5*time.Second, 20*time.Millisecond)

	final, err := eng.Process(context.Background(), "proc-resume")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"resumed": true}, final.Outputs["n2"])
	assert.Equal(t, models.TaskStateCompleted, final.Tasks["n3"].State)
}
