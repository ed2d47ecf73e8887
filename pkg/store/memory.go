package store

import (
	"context"
	"sync"
	"time"

	"github.com/actflow/actflow/pkg/models"
)

// MemoryStore is an in-memory Store suitable for tests, demos and
// embedded single-process use. Durability is trivially satisfied.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	processes map[string]*models.Process
	tasks     map[string]map[string]*models.Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*models.Workflow),
		processes: make(map[string]*models.Process),
		tasks:     make(map[string]map[string]*models.Task),
	}
}

// PutWorkflow stores or replaces a workflow definition.
func (s *MemoryStore) PutWorkflow(ctx context.Context, w *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = w
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	return w, nil
}

// ListWorkflows returns all stored workflows.
func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out, nil
}

// PutProcess stores a snapshot of the process.
func (s *MemoryStore) PutProcess(ctx context.Context, p *models.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[p.ID] = p.Clone()
	return nil
}

// GetProcess retrieves a process snapshot by ID.
func (s *MemoryStore) GetProcess(ctx context.Context, id string) (*models.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, models.ErrProcessNotFound
	}
	return p.Clone(), nil
}

// ListProcesses returns snapshots of all stored processes.
func (s *MemoryStore) ListProcesses(ctx context.Context) ([]*models.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p.Clone())
	}
	return out, nil
}

// UpdateProcessState transitions a stored process's state.
func (s *MemoryStore) UpdateProcessState(ctx context.Context, id string, state models.ProcessState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[id]
	if !ok {
		return models.ErrProcessNotFound
	}
	p.State = state
	p.UpdatedAt = time.Now()
	return nil
}

// PutTask stores or replaces one node-execution record.
func (s *MemoryStore) PutTask(ctx context.Context, pid string, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.tasks[pid]
	if !ok {
		byNode = make(map[string]*models.Task)
		s.tasks[pid] = byNode
	}
	tc := *task
	byNode[task.NodeID] = &tc
	return nil
}

// ListTasks returns all task records of a process.
func (s *MemoryStore) ListTasks(ctx context.Context, pid string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byNode := s.tasks[pid]
	out := make([]*models.Task, 0, len(byNode))
	for _, t := range byNode {
		tc := *t
		out = append(out, &tc)
	}
	return out, nil
}
