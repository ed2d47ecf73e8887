// Package store persists workflow definitions, processes and tasks.
// Two interchangeable backends are provided: an in-memory store for tests
// and embedded use, and a PostgreSQL store built on the bun ORM.
package store

import (
	"context"

	"github.com/actflow/actflow/pkg/models"
)

// Store is the persistence contract the engine consumes. Implementations
// must be safe for concurrent callers. The engine issues each write before
// publishing the corresponding event and retries a failed write once; a
// write made while a process runs that still fails is logged, and the
// event is published regardless.
type Store interface {
	// Workflows
	PutWorkflow(ctx context.Context, w *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)

	// Processes
	PutProcess(ctx context.Context, p *models.Process) error
	GetProcess(ctx context.Context, id string) (*models.Process, error)
	ListProcesses(ctx context.Context) ([]*models.Process, error)
	UpdateProcessState(ctx context.Context, id string, state models.ProcessState) error

	// Tasks
	PutTask(ctx context.Context, pid string, task *models.Task) error
	ListTasks(ctx context.Context, pid string) ([]*models.Task, error)
}
