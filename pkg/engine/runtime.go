package engine

import (
	"context"
	"sync"

	"github.com/actflow/actflow/pkg/models"
)

// procRuntime is the live execution state of one process. All mutations
// run under mu, giving the dispatcher its single-writer discipline; the
// reactor never blocks on I/O while holding the lock beyond store writes.
type procRuntime struct {
	mu sync.Mutex

	proc *models.Process
	wf   *models.Workflow

	// ctx is the process's cancellation signal, observed by every handler
	// the process has spawned.
	ctx    context.Context
	cancel context.CancelFunc

	// running counts in-flight handler invocations.
	running int

	// cancelling is set by Cancel; task failures during the grace period
	// finalize the process as cancelled rather than failed.
	cancelling bool
}

func newProcRuntime(proc *models.Process, wf *models.Workflow) *procRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	return &procRuntime{
		proc:   proc,
		wf:     wf,
		ctx:    ctx,
		cancel: cancel,
	}
}

// snapshot returns a deep copy of the process for external callers.
func (rt *procRuntime) snapshot() *models.Process {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.proc.Clone()
}

// outputsSnapshot copies the output map for template resolution; the
// snapshot is taken once, immediately before handler invocation.
// Caller holds mu.
func (rt *procRuntime) outputsSnapshot() map[string]any {
	outputs := make(map[string]any, len(rt.proc.Outputs))
	for k, v := range rt.proc.Outputs {
		outputs[k] = v
	}
	return outputs
}

// envSnapshot copies the resolved environment. Caller holds mu.
func (rt *procRuntime) envSnapshot() map[string]string {
	env := make(map[string]string, len(rt.proc.Env))
	for k, v := range rt.proc.Env {
		env[k] = v
	}
	return env
}

// allTasksTerminal reports whether every scheduled task reached a terminal
// state. Caller holds mu.
func (rt *procRuntime) allTasksTerminal() bool {
	for _, task := range rt.proc.Tasks {
		if !task.State.IsTerminal() {
			return false
		}
	}
	return true
}

// endCompleted reports whether some end node completed. Caller holds mu.
func (rt *procRuntime) endCompleted() bool {
	for _, node := range rt.wf.Nodes {
		if node.Uses != models.UsesEnd {
			continue
		}
		if task := rt.proc.Tasks[node.ID]; task != nil && task.State == models.TaskStateCompleted {
			return true
		}
	}
	return false
}
