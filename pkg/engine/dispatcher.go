package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/actflow/actflow/internal/template"
	"github.com/actflow/actflow/pkg/channel"
	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/models"
)

// persistTimeout bounds store writes issued from the reactor. Reactor
// persistence runs on a background context so cancellation of the process
// never loses its final transitions.
const persistTimeout = 10 * time.Second

// dispatcher is the scheduler. Given completions from the worker pool and
// state from the process runtime, it determines ready nodes, resolves
// their action templates, invokes handlers with bounded concurrency,
// records outcomes, and drives the process to a terminal state.
//
// All reactor methods below take rt.mu held unless noted otherwise, so
// concurrent handler completions for the same process are linearised.
type dispatcher struct {
	store    storeWriter
	ch       *channel.Channel
	registry *executor.Registry
	log      zerolog.Logger
	grace    time.Duration

	// sem bounds concurrent handler invocations across all processes.
	sem chan struct{}
	// wg tracks in-flight invocations for shutdown drain.
	wg sync.WaitGroup
}

// storeWriter is the slice of the store contract the reactor writes to.
type storeWriter interface {
	PutProcess(ctx context.Context, p *models.Process) error
	PutTask(ctx context.Context, pid string, task *models.Task) error
}

func newDispatcher(st storeWriter, ch *channel.Channel, registry *executor.Registry, log zerolog.Logger, workers int, grace time.Duration) *dispatcher {
	return &dispatcher{
		store:    st,
		ch:       ch,
		registry: registry,
		log:      log,
		grace:    grace,
		sem:      make(chan struct{}, workers),
	}
}

// start kicks off a process: the start node becomes ready.
// Caller holds rt.mu; the process is already running and persisted.
func (d *dispatcher) start(rt *procRuntime) {
	d.publish(models.Event{
		Kind:      models.KindProcessStarted,
		ProcessID: rt.proc.ID,
	})
	d.markReady(rt, rt.wf.StartNode())
}

// markReady instantiates the node's task and submits its handler to the
// worker pool. Duplicate ready signals for a node are no-ops.
func (d *dispatcher) markReady(rt *procRuntime, node *models.Node) {
	if node == nil || rt.proc.State.IsTerminal() || rt.cancelling {
		return
	}
	if _, exists := rt.proc.Tasks[node.ID]; exists {
		return
	}

	task := &models.Task{NodeID: node.ID, State: models.TaskStatePending}
	rt.proc.Tasks[node.ID] = task
	d.persistTask(rt, task)
	d.publish(models.Event{
		Kind:      models.KindNodeReady,
		ProcessID: rt.proc.ID,
		NodeID:    node.ID,
	})

	tmpl := template.NewEngine(template.NewContext(rt.outputsSnapshot(), rt.envSnapshot()))
	resolved, err := tmpl.ResolveMap(node.Action)
	if err != nil {
		d.failNode(rt, node, err)
		return
	}

	now := time.Now()
	task.State = models.TaskStateRunning
	task.StartedAt = &now
	d.persistTask(rt, task)
	d.publish(models.Event{
		Kind:      models.KindNodeStarted,
		ProcessID: rt.proc.ID,
		NodeID:    node.ID,
	})

	rt.running++
	ec := executor.NewContext(rt.proc.ID, node.ID, rt.envSnapshot(), d.ch)
	d.wg.Add(1)
	go d.invoke(rt, node, ec, resolved)
}

// invoke runs the handler on the worker pool. Runs without rt.mu.
func (d *dispatcher) invoke(rt *procRuntime, node *models.Node, ec *executor.Context, action map[string]any) {
	defer d.wg.Done()

	select {
	case d.sem <- struct{}{}:
	case <-rt.ctx.Done():
		d.handlerDone(rt, node, nil, models.ErrCancelled)
		return
	}
	defer func() { <-d.sem }()

	handler, err := d.registry.Get(node.Uses)
	if err != nil {
		d.handlerDone(rt, node, nil, err)
		return
	}

	output, err := handler.Execute(rt.ctx, ec, action)
	if err != nil && rt.ctx.Err() != nil {
		err = models.ErrCancelled
	}
	d.handlerDone(rt, node, output, err)
}

// handlerDone records a handler outcome and advances the process.
// Acquires rt.mu.
func (d *dispatcher) handlerDone(rt *procRuntime, node *models.Node, output any, err error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.running--
	task := rt.proc.Tasks[node.ID]
	if task == nil || task.State.IsTerminal() {
		// The grace-period watchdog already failed this task; the late
		// return is not recorded.
		if rt.cancelling {
			d.finalizeCancel(rt)
		}
		return
	}

	if rt.proc.State.IsTerminal() {
		// Late completion after the process already reached a terminal
		// state: record the outcome, no events.
		d.recordLateOutcome(rt, task, output, err)
		return
	}

	if err != nil {
		d.failNode(rt, node, err)
		return
	}

	now := time.Now()
	task.State = models.TaskStateCompleted
	task.Output = output
	task.FinishedAt = &now
	rt.proc.Outputs[node.ID] = output
	rt.proc.UpdatedAt = now
	d.persistProcess(rt)
	d.persistTask(rt, task)
	d.publish(models.Event{
		Kind:      models.KindNodeCompleted,
		ProcessID: rt.proc.ID,
		NodeID:    node.ID,
		Output:    output,
	})

	if rt.cancelling {
		d.finalizeCancel(rt)
		return
	}

	if node.Uses == models.UsesEnd {
		d.completeProcess(rt)
		return
	}

	d.scheduleSuccessors(rt, node)
	d.checkDeadlock(rt)
}

// recordLateOutcome persists the task result of a handler that finished
// after the process went terminal.
func (d *dispatcher) recordLateOutcome(rt *procRuntime, task *models.Task, output any, err error) {
	now := time.Now()
	task.FinishedAt = &now
	if err != nil {
		task.State = models.TaskStateFailed
		task.Error = err.Error()
	} else {
		task.State = models.TaskStateCompleted
		task.Output = output
		rt.proc.Outputs[task.NodeID] = output
		d.persistProcess(rt)
	}
	d.persistTask(rt, task)
}

// failNode marks the node failed and fails the process, unless a
// cancellation is in flight, in which case the cancel finalizer decides
// the terminal state.
func (d *dispatcher) failNode(rt *procRuntime, node *models.Node, err error) {
	task := rt.proc.Tasks[node.ID]
	now := time.Now()
	task.State = models.TaskStateFailed
	task.Error = err.Error()
	task.FinishedAt = &now
	d.persistTask(rt, task)
	d.publish(models.Event{
		Kind:      models.KindNodeFailed,
		ProcessID: rt.proc.ID,
		NodeID:    node.ID,
		Error:     err.Error(),
	})

	if rt.cancelling {
		d.finalizeCancel(rt)
		return
	}
	d.failProcess(rt, err)
}

// failProcess transitions the process to failed exactly once and signals
// cancellation to any still-running handlers.
func (d *dispatcher) failProcess(rt *procRuntime, err error) {
	if rt.proc.State.IsTerminal() {
		return
	}
	rt.proc.State = models.ProcessStateFailed
	rt.proc.Error = err.Error()
	rt.proc.UpdatedAt = time.Now()
	d.persistProcess(rt)
	d.publish(models.Event{
		Kind:      models.KindProcessFailed,
		ProcessID: rt.proc.ID,
		Error:     err.Error(),
	})
	rt.cancel()
}

// completeProcess transitions the process to completed and stops
// remaining work.
func (d *dispatcher) completeProcess(rt *procRuntime) {
	if rt.proc.State.IsTerminal() {
		return
	}
	rt.proc.State = models.ProcessStateCompleted
	rt.proc.UpdatedAt = time.Now()
	d.persistProcess(rt)
	d.publish(models.Event{
		Kind:      models.KindProcessCompleted,
		ProcessID: rt.proc.ID,
	})
	rt.cancel()
}

// scheduleSuccessors evaluates every target of the completed node's
// outgoing edges. For if_else sources only the selected branch's edge is
// live; targets of dead edges are still evaluated so skips propagate.
func (d *dispatcher) scheduleSuccessors(rt *procRuntime, node *models.Node) {
	for _, edge := range rt.wf.OutgoingEdges(node.ID) {
		if target := rt.wf.Node(edge.Target); target != nil {
			d.evalNode(rt, target)
		}
	}
}

// evalNode classifies the target's incoming edges and acts on the result:
// any pending edge defers the decision, at least one satisfied edge makes
// the node ready, and all-dead skips it.
func (d *dispatcher) evalNode(rt *procRuntime, target *models.Node) {
	if _, exists := rt.proc.Tasks[target.ID]; exists {
		return
	}

	satisfied, dead := 0, 0
	for _, edge := range rt.wf.IncomingEdges(target.ID) {
		switch d.classifyEdge(rt, edge) {
		case edgeSatisfied:
			satisfied++
		case edgeDead:
			dead++
		default:
			return
		}
	}

	if satisfied > 0 {
		d.markReady(rt, target)
		return
	}
	if dead > 0 {
		d.skipNode(rt, target)
	}
}

type edgeStatus int

const (
	edgePending edgeStatus = iota
	edgeSatisfied
	edgeDead
)

// classifyEdge decides whether an incoming edge is satisfied (source
// completed and its handle selected), dead (source skipped, or the other
// branch won), or still pending.
func (d *dispatcher) classifyEdge(rt *procRuntime, edge *models.Edge) edgeStatus {
	srcTask := rt.proc.Tasks[edge.Source]
	if srcTask == nil {
		return edgePending
	}

	switch srcTask.State {
	case models.TaskStateCompleted:
		src := rt.wf.Node(edge.Source)
		if src != nil && src.Uses == models.UsesIfElse {
			if edge.Handle() == selectedBranch(rt.proc.Outputs[edge.Source]) {
				return edgeSatisfied
			}
			return edgeDead
		}
		return edgeSatisfied
	case models.TaskStateSkipped:
		return edgeDead
	default:
		return edgePending
	}
}

// selectedBranch extracts the branch an if_else node chose.
func selectedBranch(output any) string {
	if m, ok := output.(map[string]any); ok {
		if branch, ok := m["branch"].(string); ok {
			return branch
		}
	}
	return ""
}

// skipNode records a skipped task without invoking a handler and
// propagates the skip downstream.
func (d *dispatcher) skipNode(rt *procRuntime, node *models.Node) {
	now := time.Now()
	task := &models.Task{
		NodeID:     node.ID,
		State:      models.TaskStateSkipped,
		FinishedAt: &now,
	}
	rt.proc.Tasks[node.ID] = task
	d.persistTask(rt, task)
	d.publish(models.Event{
		Kind:      models.KindLog,
		ProcessID: rt.proc.ID,
		NodeID:    node.ID,
		Level:     models.LogLevelDebug,
		Text:      "node skipped: all incoming edges dead",
	})

	for _, edge := range rt.wf.OutgoingEdges(node.ID) {
		if target := rt.wf.Node(edge.Target); target != nil {
			d.evalNode(rt, target)
		}
	}
}

// checkDeadlock fails the process when nothing is running, nothing is
// ready, and no end node completed.
func (d *dispatcher) checkDeadlock(rt *procRuntime) {
	if rt.proc.State.IsTerminal() || rt.running > 0 {
		return
	}
	for _, task := range rt.proc.Tasks {
		if !task.State.IsTerminal() {
			return
		}
	}
	if rt.endCompleted() {
		return
	}
	d.failProcess(rt, models.ErrDeadlocked)
}

// requestCancel sets the process's cancellation signal. Running handlers
// get the grace period to abort; afterwards their tasks are failed with
// the grace-period error. Acquires rt.mu.
func (d *dispatcher) requestCancel(rt *procRuntime) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.proc.State.IsTerminal() || rt.cancelling {
		return
	}
	rt.cancelling = true
	rt.cancel()

	if d.finalizeCancel(rt) {
		return
	}

	time.AfterFunc(d.grace, func() {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if rt.proc.State.IsTerminal() {
			return
		}
		for _, task := range rt.proc.Tasks {
			if task.State.IsTerminal() {
				continue
			}
			now := time.Now()
			task.State = models.TaskStateFailed
			task.Error = models.ErrCancelledTimeout.Error()
			task.FinishedAt = &now
			d.persistTask(rt, task)
			d.publish(models.Event{
				Kind:      models.KindNodeFailed,
				ProcessID: rt.proc.ID,
				NodeID:    task.NodeID,
				Error:     task.Error,
			})
		}
		d.finalizeCancel(rt)
	})
}

// finalizeCancel transitions the process to cancelled once every task is
// terminal. Returns true when the transition happened.
func (d *dispatcher) finalizeCancel(rt *procRuntime) bool {
	if rt.proc.State.IsTerminal() || !rt.allTasksTerminal() {
		return false
	}
	rt.proc.State = models.ProcessStateCancelled
	rt.proc.UpdatedAt = time.Now()
	d.persistProcess(rt)
	d.publish(models.Event{
		Kind:      models.KindProcessCancelled,
		ProcessID: rt.proc.ID,
	})
	return true
}

// publish forwards an event to the channel; a closed channel only happens
// during shutdown drain.
func (d *dispatcher) publish(ev models.Event) {
	if err := d.ch.Publish(ev); err != nil && !errors.Is(err, channel.ErrChannelClosed) {
		d.log.Error().Err(err).Str("process_id", ev.ProcessID).Msg("failed to publish event")
	}
}

// persistProcess writes a process snapshot with a single retry. Writes
// happen before the corresponding event is published.
func (d *dispatcher) persistProcess(rt *procRuntime) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snap := rt.proc.Clone()
	err := d.store.PutProcess(ctx, snap)
	if err != nil {
		err = d.store.PutProcess(ctx, snap)
	}
	if err != nil {
		d.log.Error().Err(err).Str("process_id", rt.proc.ID).Msg("failed to persist process state")
	}
}

// persistTask writes one task record with a single retry.
func (d *dispatcher) persistTask(rt *procRuntime, task *models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := *task
	err := d.store.PutTask(ctx, rt.proc.ID, &rec)
	if err != nil {
		err = d.store.PutTask(ctx, rt.proc.ID, &rec)
	}
	if err != nil {
		d.log.Error().Err(err).Str("process_id", rt.proc.ID).Str("node_id", task.NodeID).Msg("failed to persist task state")
	}
}
