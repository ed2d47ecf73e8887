package store

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/actflow/actflow/pkg/models"
)

// workflowRow maps a workflow definition onto the workflows table. The
// whole definition is stored as one jsonb body; workflows are immutable
// once deployed, so there is nothing to normalise.
type workflowRow struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID   string          `bun:"id,pk"`
	Body json.RawMessage `bun:"body,type:jsonb"`
}

func newWorkflowRow(w *models.Workflow) (*workflowRow, error) {
	body, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return &workflowRow{ID: w.ID, Body: body}, nil
}

func (r *workflowRow) toDomain() (*models.Workflow, error) {
	var w models.Workflow
	if err := json.Unmarshal(r.Body, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// processRow maps a process onto the processes table. Tasks live in their
// own table keyed by (process_id, node_id).
type processRow struct {
	bun.BaseModel `bun:"table:processes,alias:p"`

	ID         string          `bun:"id,pk"`
	WorkflowID string          `bun:"workflow_id,notnull"`
	State      string          `bun:"state,notnull"`
	Outputs    json.RawMessage `bun:"outputs,type:jsonb"`
	Env        json.RawMessage `bun:"env,type:jsonb"`
	Error      string          `bun:"error"`
	CreatedAt  time.Time       `bun:"created_at,notnull"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull"`
}

func newProcessRow(p *models.Process) (*processRow, error) {
	outputs, err := json.Marshal(p.Outputs)
	if err != nil {
		return nil, err
	}
	env, err := json.Marshal(p.Env)
	if err != nil {
		return nil, err
	}
	return &processRow{
		ID:         p.ID,
		WorkflowID: p.WorkflowID,
		State:      string(p.State),
		Outputs:    outputs,
		Env:        env,
		Error:      p.Error,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func (r *processRow) toDomain() (*models.Process, error) {
	p := &models.Process{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		State:      models.ProcessState(r.State),
		Outputs:    make(map[string]any),
		Tasks:      make(map[string]*models.Task),
		Env:        make(map[string]string),
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Outputs) > 0 {
		if err := json.Unmarshal(r.Outputs, &p.Outputs); err != nil {
			return nil, err
		}
	}
	if len(r.Env) > 0 {
		if err := json.Unmarshal(r.Env, &p.Env); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// taskRow maps a node-execution record onto the tasks table.
type taskRow struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ProcessID  string          `bun:"process_id,pk"`
	NodeID     string          `bun:"node_id,pk"`
	State      string          `bun:"state,notnull"`
	Output     json.RawMessage `bun:"output,type:jsonb"`
	Error      string          `bun:"error"`
	StartedAt  *time.Time      `bun:"started_at"`
	FinishedAt *time.Time      `bun:"finished_at"`
}

func newTaskRow(pid string, t *models.Task) (*taskRow, error) {
	var output json.RawMessage
	if t.Output != nil {
		encoded, err := json.Marshal(t.Output)
		if err != nil {
			return nil, err
		}
		output = encoded
	}
	return &taskRow{
		ProcessID:  pid,
		NodeID:     t.NodeID,
		State:      string(t.State),
		Output:     output,
		Error:      t.Error,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}, nil
}

func (r *taskRow) toDomain() (*models.Task, error) {
	t := &models.Task{
		NodeID:     r.NodeID,
		State:      models.TaskState(r.State),
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if len(r.Output) > 0 {
		if err := json.Unmarshal(r.Output, &t.Output); err != nil {
			return nil, err
		}
	}
	return t, nil
}
