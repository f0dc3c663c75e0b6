package models

import "testing"

func TestMilestoneStatus_Derived(t *testing.T) {
	m := &Milestone{
		ID:    "m1",
		Title: "wire the parser",
		Tasks: []Task{
			{ID: "t1", Status: StatusPending},
			{ID: "t2", Status: StatusPending},
		},
	}

	if got := m.Status(); got != StatusPending {
		t.Errorf("all pending: got %s, want %s", got, StatusPending)
	}

	m.Tasks[0].Status = StatusRunning
	if got := m.Status(); got != StatusRunning {
		t.Errorf("one running: got %s, want %s", got, StatusRunning)
	}

	m.Tasks[0].Status = StatusCompleted
	if got := m.Status(); got != StatusRunning {
		t.Errorf("partially completed: got %s, want %s", got, StatusRunning)
	}

	m.Tasks[1].Status = StatusCompleted
	if got := m.Status(); got != StatusCompleted {
		t.Errorf("all completed: got %s, want %s", got, StatusCompleted)
	}
}

func TestMilestoneStatus_FailedChildWins(t *testing.T) {
	m := &Milestone{
		ID: "m1",
		Tasks: []Task{
			{ID: "t1", Status: StatusCompleted},
			{ID: "t2", Status: StatusFailed},
			{ID: "t3", Status: StatusPending},
		},
	}

	if got := m.Status(); got != StatusFailed {
		t.Errorf("got %s, want %s", got, StatusFailed)
	}
}

func TestPlanClone_Independent(t *testing.T) {
	p := &ImplementationPlan{
		Goal: "add caching",
		Milestones: []Milestone{
			{ID: "m1", Tasks: []Task{{ID: "t1", Status: StatusPending}}},
		},
	}

	snap := p.Clone()
	p.Milestones[0].Tasks[0].Status = StatusCompleted

	if snap.Milestones[0].Tasks[0].Status != StatusPending {
		t.Error("clone shares task storage with the original plan")
	}
}

func TestPlanTask_Lookup(t *testing.T) {
	p := &ImplementationPlan{
		Milestones: []Milestone{
			{ID: "m1", Tasks: []Task{{ID: "t1"}, {ID: "t2"}}},
			{ID: "m2", Tasks: []Task{{ID: "t3"}}},
		},
	}

	if tk := p.Task("t3"); tk == nil {
		t.Fatal("Task(t3) returned nil")
	}
	if tk := p.Task("missing"); tk != nil {
		t.Errorf("Task(missing) = %+v, want nil", tk)
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusRunning.Terminal() {
		t.Error("running should not be terminal")
	}
	if !StatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	if !RunCancelled.Terminal() {
		t.Error("cancelled run should be terminal")
	}
	if RunExecuting.Terminal() {
		t.Error("executing run should not be terminal")
	}
}
