package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/maestro-ai/maestro/pkg/models"
)

func planFixture() *models.ImplementationPlan {
	return &models.ImplementationPlan{
		Goal: "goal",
		Milestones: []models.Milestone{
			{ID: "m1", Title: "m1", Tasks: []models.Task{
				{ID: "t1", Status: models.StatusPending},
				{ID: "t2", Status: models.StatusPending},
			}},
		},
	}
}

func apply(m *AttachModel, content models.Payload) {
	m.applyEvent(models.NewEvent("controller", content))
}

func TestAttachModel_TracksPlanProgress(t *testing.T) {
	m := NewAttachModel("abc12345", nil)

	if !strings.Contains(m.progressLine(), "waiting for plan") {
		t.Errorf("progress before plan = %q", m.progressLine())
	}

	apply(m, models.PlanPayload{Plan: planFixture()})
	if !strings.Contains(m.progressLine(), "0/2") {
		t.Errorf("progress = %q, want 0/2", m.progressLine())
	}

	apply(m, models.TaskPayload{TaskID: "t1", MilestoneID: "m1", Status: models.StatusCompleted})
	if !strings.Contains(m.progressLine(), "1/2") {
		t.Errorf("progress = %q, want 1/2", m.progressLine())
	}
}

func TestAttachModel_DoneEndsRun(t *testing.T) {
	m := NewAttachModel("abc12345", nil)
	apply(m, models.PlanPayload{Plan: planFixture()})
	apply(m, models.DonePayload{Status: models.RunCompleted, Plan: planFixture(), Summary: "2/2 tasks completed"})

	if !m.finished {
		t.Error("model not finished after done event")
	}
	if m.status != models.RunCompleted {
		t.Errorf("status = %s", m.status)
	}
}

func TestAttachModel_FatalErrorEndsRun(t *testing.T) {
	m := NewAttachModel("abc12345", nil)
	apply(m, models.ErrorPayload{Stage: "architect", Message: "planning failed", Fatal: true})

	if !m.finished {
		t.Error("model not finished after fatal error")
	}
	if m.status != models.RunFailed {
		t.Errorf("status = %s", m.status)
	}
}

func TestAttachModel_CancelKey(t *testing.T) {
	calls := 0
	m := NewAttachModel("abc12345", func() error {
		calls++
		return nil
	})
	apply(m, models.PlanPayload{Plan: planFixture()})

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if calls != 1 {
		t.Errorf("cancel calls = %d, want 1", calls)
	}
	m = model.(*AttachModel)
	if m.finished {
		t.Error("cancel must not end the view; the done event does")
	}
}

func TestAttachModel_ViewRendersHeaderAndFooter(t *testing.T) {
	m := NewAttachModel("abc12345", func() error { return nil })
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	apply(m, models.PlanPayload{Plan: planFixture()})

	view := m.View()
	if !strings.Contains(view, "abc12345") {
		t.Error("view missing run id")
	}
	if !strings.Contains(view, "q quit") || !strings.Contains(view, "c cancel") {
		t.Errorf("view missing footer keys:\n%s", view)
	}
}
