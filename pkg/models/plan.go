// Package models defines the plan and event types shared across maestro.
package models

import "time"

// Status represents the execution state of a task, milestone or run element.
type Status string

const (
	// StatusPending indicates the work has not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the work is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates the work finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the work failed.
	StatusFailed Status = "failed"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is the leaf unit of work in a plan.
type Task struct {
	// ID is unique within a run.
	ID string `json:"id" yaml:"id"`
	// Description is the human-readable unit of work.
	Description string `json:"description" yaml:"description"`
	// Status is the current execution state.
	Status Status `json:"status" yaml:"status,omitempty"`
	// Detail carries the worker's result summary or failure message.
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	// CompletedAt is set when the task reaches a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"-"`
}

// Milestone is an ordered group of tasks. Insertion order is execution order.
type Milestone struct {
	// ID is unique within a run.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the milestone.
	Title string `json:"title" yaml:"title"`
	// Tasks execute strictly in sequence.
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Status derives the milestone status from its children: running once any
// child runs, failed if any child failed, completed only when all children
// completed, pending otherwise.
func (m *Milestone) Status() Status {
	if len(m.Tasks) == 0 {
		return StatusCompleted
	}
	allCompleted := true
	anyStarted := false
	for _, t := range m.Tasks {
		switch t.Status {
		case StatusFailed:
			return StatusFailed
		case StatusCompleted:
			anyStarted = true
		case StatusRunning:
			anyStarted = true
			allCompleted = false
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return StatusCompleted
	}
	if anyStarted {
		return StatusRunning
	}
	return StatusPending
}

// ImplementationPlan is the full execution blueprint for a run. Milestones
// execute strictly in sequence. The plan may be amended append-only while
// the run is live; it is never mutated destructively once a milestone has
// started.
type ImplementationPlan struct {
	// Goal is the user request the plan implements.
	Goal string `json:"goal" yaml:"goal"`
	// Milestones execute in order.
	Milestones []Milestone `json:"milestones" yaml:"milestones"`
}

// Clone returns a deep copy of the plan, suitable for emitting as an
// immutable snapshot while the controller keeps mutating the original.
func (p *ImplementationPlan) Clone() *ImplementationPlan {
	if p == nil {
		return nil
	}
	out := &ImplementationPlan{Goal: p.Goal, Milestones: make([]Milestone, len(p.Milestones))}
	for i, m := range p.Milestones {
		cm := m
		cm.Tasks = make([]Task, len(m.Tasks))
		copy(cm.Tasks, m.Tasks)
		out.Milestones[i] = cm
	}
	return out
}

// Task returns a pointer to the task with the given ID, or nil.
func (p *ImplementationPlan) Task(id string) *Task {
	for mi := range p.Milestones {
		for ti := range p.Milestones[mi].Tasks {
			if p.Milestones[mi].Tasks[ti].ID == id {
				return &p.Milestones[mi].Tasks[ti]
			}
		}
	}
	return nil
}

// Counts returns the number of completed tasks and the total task count.
func (p *ImplementationPlan) Counts() (completed, total int) {
	for _, m := range p.Milestones {
		for _, t := range m.Tasks {
			total++
			if t.Status == StatusCompleted {
				completed++
			}
		}
	}
	return completed, total
}

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunIdle indicates the run has been created but not started.
	RunIdle RunStatus = "idle"
	// RunPlanning indicates the planning stage is producing the plan.
	RunPlanning RunStatus = "planning"
	// RunExecuting indicates milestones are being executed.
	RunExecuting RunStatus = "executing"
	// RunCompleted indicates all milestones completed.
	RunCompleted RunStatus = "completed"
	// RunFailed indicates planning or a task failed.
	RunFailed RunStatus = "failed"
	// RunCancelled indicates the run was stopped at a checkpoint.
	RunCancelled RunStatus = "cancelled"
)

// Terminal returns true if the run can make no further progress.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run describes one end-to-end pipeline execution.
type Run struct {
	ID         string     `json:"id"`
	Goal       string     `json:"goal"`
	Status     RunStatus  `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
