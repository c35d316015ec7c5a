// Package project defines the durable state of one orchestration run and its
// on-disk store.
package project

import (
	"time"

	"github.com/oi-sh/oi/internal/plan"
)

// Phase is the top-level state machine of a project. Transitions are driven
// by the phase controllers; the project never self-transitions.
type Phase string

const (
	PhasePlanning    Phase = "planning"
	PhaseApproval    Phase = "approval"
	PhaseExecuting   Phase = "executing"
	PhaseIntegrating Phase = "integrating"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// TaskStatus is the per-task execution state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// IsTerminal reports whether a task status allows no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// SubStatus tracks the state of the planning and integration sub-phases.
type SubStatus string

const (
	SubPending   SubStatus = "pending"
	SubRunning   SubStatus = "running"
	SubCompleted SubStatus = "completed"
	SubFailed    SubStatus = "failed"
)

// Repo identifies the target repository.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String returns owner/name.
func (r Repo) String() string { return r.Owner + "/" + r.Name }

// TaskExecution is the mutable execution record for one plan task.
type TaskExecution struct {
	Status      TaskStatus `json:"status"`
	SessionID   string     `json:"session_id,omitempty"`
	BranchName  string     `json:"branch_name,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

// PlanningState is the planning phase sub-state.
type PlanningState struct {
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Status    SubStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// IntegrationState is the integration phase sub-state.
type IntegrationState struct {
	SessionID    string    `json:"session_id,omitempty"`
	Status       SubStatus `json:"status"`
	MergedBranch string    `json:"merged_branch,omitempty"`
	PRURL        string    `json:"pr_url,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Project is one orchestration run: the unit of persistence. All mutation
// happens on a single logical thread of control; the store's atomic writes
// are the only way state crosses a process boundary.
type Project struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Goal  string `json:"goal"`
	Repo  Repo   `json:"repo"`
	Phase Phase  `json:"phase"`

	Planning    PlanningState             `json:"planning"`
	Plan        *plan.Plan                `json:"plan,omitempty"`
	Tasks       map[string]*TaskExecution `json:"tasks"`
	Integration IntegrationState          `json:"integration"`
}

// InitTasks creates a pending TaskExecution for every plan task. Existing
// records are kept so that re-entering execution on resume is a no-op for
// work already recorded.
func (p *Project) InitTasks() {
	if p.Tasks == nil {
		p.Tasks = make(map[string]*TaskExecution)
	}
	if p.Plan == nil {
		return
	}
	for _, t := range p.Plan.Tasks {
		if _, ok := p.Tasks[t.ID]; !ok {
			p.Tasks[t.ID] = &TaskExecution{Status: TaskPending}
		}
	}
}

// CountByStatus returns how many tasks are in each status.
func (p *Project) CountByStatus() map[TaskStatus]int {
	counts := make(map[TaskStatus]int)
	for _, exec := range p.Tasks {
		counts[exec.Status]++
	}
	return counts
}

// CompletedTaskIDs returns the ids of completed tasks in plan order.
func (p *Project) CompletedTaskIDs() []string {
	if p.Plan == nil {
		return nil
	}
	var ids []string
	for _, t := range p.Plan.Tasks {
		if exec, ok := p.Tasks[t.ID]; ok && exec.Status == TaskCompleted {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
