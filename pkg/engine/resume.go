package engine

import (
	"context"
	"time"

	"github.com/actflow/actflow/pkg/models"
)

// resume scans the store for processes left running by a previous engine
// instance. Tasks observed in the running state are failed with the
// restart error (no automatic retry); nodes whose incoming edges are all
// satisfied but whose task is absent or pending get their ready signal
// re-emitted.
func (e *Engine) resume(ctx context.Context) error {
	processes, err := e.store.ListProcesses(ctx)
	if err != nil {
		return err
	}

	for _, proc := range processes {
		if proc.State != models.ProcessStateRunning {
			continue
		}

		e.mu.Lock()
		_, known := e.procs[proc.ID]
		e.mu.Unlock()
		if known {
			// Already owned by this instance; nothing to recover.
			continue
		}

		if err := e.resumeProcess(ctx, proc); err != nil {
			e.log.Error().Err(err).Str("process_id", proc.ID).Msg("failed to resume process")
		}
	}
	return nil
}

func (e *Engine) resumeProcess(ctx context.Context, proc *models.Process) error {
	wf, err := e.store.GetWorkflow(ctx, proc.WorkflowID)
	if err != nil {
		return err
	}

	if proc.Tasks == nil {
		proc.Tasks = make(map[string]*models.Task)
	}
	if len(proc.Tasks) == 0 {
		tasks, err := e.store.ListTasks(ctx, proc.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			proc.Tasks[t.NodeID] = t
		}
	}

	rt := newProcRuntime(proc, wf)
	e.mu.Lock()
	e.procs[proc.ID] = rt
	e.mu.Unlock()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	e.log.Info().Str("process_id", proc.ID).Str("workflow_id", wf.ID).Msg("resuming interrupted process")

	// Tasks caught mid-flight by the restart are lost; fail them, and the
	// failure is fatal to the process like any other.
	interrupted := false
	for _, task := range rt.proc.Tasks {
		if task.State != models.TaskStateRunning {
			continue
		}
		now := time.Now()
		task.State = models.TaskStateFailed
		task.Error = models.ErrInterruptedByRestart.Error()
		task.FinishedAt = &now
		e.disp.persistTask(rt, task)
		e.disp.publish(models.Event{
			Kind:      models.KindNodeFailed,
			ProcessID: rt.proc.ID,
			NodeID:    task.NodeID,
			Error:     task.Error,
		})
		interrupted = true
	}
	if interrupted {
		e.disp.failProcess(rt, models.ErrInterruptedByRestart)
		return nil
	}

	// Pending tasks never reached the pool; re-arm them so markReady can
	// re-emit their ready signal.
	for nodeID, task := range rt.proc.Tasks {
		if task.State == models.TaskStatePending {
			delete(rt.proc.Tasks, nodeID)
		}
	}

	// The start node has no incoming edges; evalNode never fires it.
	if start := wf.StartNode(); start != nil {
		if _, exists := rt.proc.Tasks[start.ID]; !exists {
			e.disp.markReady(rt, start)
		}
	}
	for _, node := range wf.Nodes {
		if node.Uses == models.UsesStart {
			continue
		}
		e.disp.evalNode(rt, node)
	}
	e.disp.checkDeadlock(rt)
	return nil
}
