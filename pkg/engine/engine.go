package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/actflow/actflow/pkg/channel"
	"github.com/actflow/actflow/pkg/executor"
	"github.com/actflow/actflow/pkg/executor/builtin"
	"github.com/actflow/actflow/pkg/models"
	"github.com/actflow/actflow/pkg/store"
)

// Engine is the embeddable façade: deploy workflows, build and launch
// processes, own the worker pool, route events through the channel.
type Engine struct {
	store    store.Store
	registry *executor.Registry
	ch       *channel.Channel
	disp     *dispatcher
	log      zerolog.Logger

	mu       sync.Mutex
	procs    map[string]*procRuntime
	launched bool
	stopped  bool
}

// New creates an engine from the given configuration. Nil dependencies
// fall back to an in-memory store and a registry holding the built-in
// handlers with default collaborators.
func New(cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Registry == nil {
		cfg.Registry = executor.NewRegistry()
		if err := builtin.Register(cfg.Registry, builtin.Deps{}); err != nil {
			return nil, err
		}
	}

	chOpts := []channel.Option{channel.WithLogger(cfg.Logger)}
	if cfg.QueueSize > 0 {
		chOpts = append(chOpts, channel.WithQueueSize(cfg.QueueSize))
	}
	ch := channel.New(chOpts...)

	return &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		ch:       ch,
		disp:     newDispatcher(cfg.Store, ch, cfg.Registry, cfg.Logger, cfg.Workers, cfg.CancelGrace),
		log:      cfg.Logger,
		procs:    make(map[string]*procRuntime),
	}, nil
}

// Channel returns the engine's event channel for subscriptions.
func (e *Engine) Channel() *channel.Channel {
	return e.ch
}

// Registry returns the handler registry for custom registrations.
func (e *Engine) Registry() *executor.Registry {
	return e.registry
}

// Launch starts the engine: the worker pool accepts submissions and, with
// a persistent store, interrupted processes are resumed.
func (e *Engine) Launch() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return models.ErrEngineStopped
	}
	if e.launched {
		e.mu.Unlock()
		return nil
	}
	e.launched = true
	e.mu.Unlock()

	if err := e.resume(context.Background()); err != nil {
		e.log.Error().Err(err).Msg("resume scan failed")
	}
	return nil
}

// Shutdown signals cancellation to all live processes, awaits handler
// drain up to the context deadline, and drains the channel. Subsequent
// publishes and runs are rejected.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	runtimes := make([]*procRuntime, 0, len(e.procs))
	for _, rt := range e.procs {
		runtimes = append(runtimes, rt)
	}
	e.mu.Unlock()

	for _, rt := range runtimes {
		e.disp.requestCancel(rt)
	}

	drained := make(chan struct{})
	go func() {
		e.disp.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown deadline exceeded: %w", ctx.Err())
	}

	e.ch.Close()
	return err
}

// Deploy validates a workflow and writes it to the store. The definition
// is immutable once deployed.
func (e *Engine) Deploy(ctx context.Context, w *models.Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	for _, node := range w.Nodes {
		handler, err := e.registry.Get(node.Uses)
		if err != nil {
			return &models.ValidationError{Field: "nodes", Message: fmt.Sprintf("node %s: no handler for uses %q", node.ID, node.Uses)}
		}
		if err := handler.Validate(node.Action); err != nil {
			return &models.ValidationError{Field: "nodes", Message: fmt.Sprintf("node %s: %v", node.ID, err)}
		}
	}

	if err := e.putWorkflow(ctx, w); err != nil {
		return err
	}
	e.log.Info().Str("workflow_id", w.ID).Int("nodes", len(w.Nodes)).Msg("workflow deployed")
	return nil
}

// BuildProcess creates a pending process from a deployed workflow. The
// overrides overlay the workflow's default environment.
func (e *Engine) BuildProcess(ctx context.Context, workflowID string, overrides map[string]string) (*models.Process, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(wf.Env)+len(overrides))
	for k, v := range wf.Env {
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}

	now := time.Now()
	proc := &models.Process{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		State:      models.ProcessStatePending,
		Outputs:    make(map[string]any),
		Tasks:      make(map[string]*models.Task),
		Env:        env,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.putProcess(ctx, proc); err != nil {
		return nil, err
	}

	rt := newProcRuntime(proc, wf)
	e.mu.Lock()
	e.procs[proc.ID] = rt
	e.mu.Unlock()

	return proc.Clone(), nil
}

// RunProcess publishes the process's start event and hands it to the
// dispatcher. Returns the process ID.
func (e *Engine) RunProcess(ctx context.Context, p *models.Process) (string, error) {
	e.mu.Lock()
	if !e.launched {
		e.mu.Unlock()
		return "", models.ErrEngineNotLaunched
	}
	if e.stopped {
		e.mu.Unlock()
		return "", models.ErrEngineStopped
	}
	rt, ok := e.procs[p.ID]
	e.mu.Unlock()
	if !ok {
		return "", models.ErrProcessNotFound
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.proc.State != models.ProcessStatePending {
		return "", fmt.Errorf("process %s is %s: %w", p.ID, rt.proc.State, models.ErrProcessTerminal)
	}
	rt.proc.State = models.ProcessStateRunning
	rt.proc.UpdatedAt = time.Now()
	if err := e.putProcess(ctx, rt.proc.Clone()); err != nil {
		rt.proc.State = models.ProcessStatePending
		return "", err
	}

	e.disp.start(rt)
	return p.ID, nil
}

// Cancel sets the process's cancellation signal. Running handlers observe
// it and must abort within the grace period.
func (e *Engine) Cancel(pid string) error {
	e.mu.Lock()
	rt, ok := e.procs[pid]
	e.mu.Unlock()
	if !ok {
		return models.ErrProcessNotFound
	}
	e.disp.requestCancel(rt)
	return nil
}

// Process returns a snapshot of a live process, falling back to the store
// for dropped ones.
func (e *Engine) Process(ctx context.Context, pid string) (*models.Process, error) {
	e.mu.Lock()
	rt, ok := e.procs[pid]
	e.mu.Unlock()
	if ok {
		return rt.snapshot(), nil
	}
	return e.store.GetProcess(ctx, pid)
}

// DropProcess releases a terminal process from the engine. The store
// retains its final state and outputs.
func (e *Engine) DropProcess(pid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt, ok := e.procs[pid]
	if !ok {
		return models.ErrProcessNotFound
	}
	rt.mu.Lock()
	terminal := rt.proc.State.IsTerminal()
	rt.mu.Unlock()
	if !terminal {
		return fmt.Errorf("process %s is not terminal", pid)
	}
	delete(e.procs, pid)
	return nil
}

// putWorkflow persists a workflow with a single retry on failure.
func (e *Engine) putWorkflow(ctx context.Context, w *models.Workflow) error {
	err := e.store.PutWorkflow(ctx, w)
	if err != nil {
		err = e.store.PutWorkflow(ctx, w)
	}
	if err != nil {
		return &models.StoreError{Op: "put workflow", Err: err}
	}
	return nil
}

// putProcess persists a process with a single retry on failure.
func (e *Engine) putProcess(ctx context.Context, p *models.Process) error {
	err := e.store.PutProcess(ctx, p)
	if err != nil {
		err = e.store.PutProcess(ctx, p)
	}
	if err != nil {
		return &models.StoreError{Op: "put process", Err: err}
	}
	return nil
}
