// Package tui provides the terminal user interface for maestro.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/maestro-ai/maestro/internal/stream"
	"github.com/maestro-ai/maestro/pkg/models"
)

// EventMsg wraps a run event for the TUI.
type EventMsg struct {
	Event models.Event
}

// ConnStateMsg is sent when the stream connection state changes.
type ConnStateMsg struct {
	State stream.ConnState
}

// StreamClosedMsg signals that the event stream has ended.
type StreamClosedMsg struct {
	Err error
}

// CancelFunc is invoked when the user requests cancellation from the
// attach view. It may be called more than once.
type CancelFunc func() error

// AttachModel is the bubbletea model for following a live run.
type AttachModel struct {
	runID  string
	cancel CancelFunc

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool

	connState stream.ConnState
	status    models.RunStatus
	plan      *models.ImplementationPlan
	lines     []string
	finished  bool
	streamErr error

	width  int
	height int

	headerStyle  lipgloss.Style
	statusStyle  lipgloss.Style
	dimStyle     lipgloss.Style
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	footerStyle  lipgloss.Style
}

// NewAttachModel creates the attach view for a run. cancel may be nil,
// in which case the cancel keybinding is disabled.
func NewAttachModel(runID string, cancel CancelFunc) *AttachModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &AttachModel{
		runID:   runID,
		cancel:  cancel,
		spinner: sp,
		status:  models.RunIdle,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),
		statusStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),
		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		footerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

func (m *AttachModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *AttachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			if m.cancel != nil && !m.finished {
				if err := m.cancel(); err != nil {
					m.appendLine(m.errorStyle.Render("cancel failed: " + err.Error()))
				} else {
					m.appendLine(m.dimStyle.Render("cancellation requested, finishing current task"))
				}
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - m.chromeHeight()
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshViewport()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ConnStateMsg:
		m.connState = msg.State
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Event)
		return m, nil

	case StreamClosedMsg:
		m.finished = true
		m.streamErr = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// applyEvent folds a run event into the view state.
func (m *AttachModel) applyEvent(ev models.Event) {
	switch content := ev.Content.(type) {
	case models.LogPayload:
		m.appendLine(fmt.Sprintf("%s %s", m.dimStyle.Render(ev.Agent), content.Message))
	case models.ThoughtPayload:
		m.appendLine(m.dimStyle.Render(fmt.Sprintf("%s thinking: %s", ev.Agent, content.Text)))
	case models.InfoPayload:
		m.appendLine(m.dimStyle.Render(content.Message))
	case models.PlanPayload:
		m.plan = content.Plan
		m.status = models.RunExecuting
		_, tasks := content.Plan.Counts()
		m.appendLine(fmt.Sprintf("plan ready: %d milestones, %d tasks", len(content.Plan.Milestones), tasks))
	case models.TaskPayload:
		if m.plan != nil {
			if task := m.plan.Task(content.TaskID); task != nil {
				task.Status = content.Status
				task.Detail = content.Detail
			}
		}
		line := fmt.Sprintf("task %s: %s", content.TaskID, content.Status)
		if content.Status == models.StatusFailed {
			line = m.errorStyle.Render(line + " " + content.Detail)
		}
		m.appendLine(line)
	case models.MilestonePayload:
		m.appendLine(fmt.Sprintf("milestone %s: %s", content.MilestoneID, content.Status))
	case models.ArtifactPayload:
		m.appendLine(fmt.Sprintf("artifact %s (%s)", content.Name, content.Path))
	case models.ErrorPayload:
		m.appendLine(m.errorStyle.Render(fmt.Sprintf("[%s] %s", content.Stage, content.Message)))
		if content.Fatal {
			m.finished = true
			m.status = models.RunFailed
		}
	case models.DonePayload:
		m.finished = true
		m.status = content.Status
		m.plan = content.Plan
		m.appendLine(m.renderDone(content))
	}
}

func (m *AttachModel) renderDone(done models.DonePayload) string {
	line := fmt.Sprintf("run %s: %s", done.Status, done.Summary)
	switch done.Status {
	case models.RunCompleted:
		return m.successStyle.Render(line)
	case models.RunFailed:
		return m.errorStyle.Render(line)
	default:
		return m.statusStyle.Render(line)
	}
}

func (m *AttachModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *AttachModel) refreshViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// chromeHeight is the number of rows used by header and footer.
func (m *AttachModel) chromeHeight() int {
	return 4
}

func (m *AttachModel) View() string {
	var b strings.Builder

	indicator := m.spinner.View()
	if m.finished {
		indicator = " "
	}
	header := fmt.Sprintf("%s %s  %s  %s",
		indicator,
		m.headerStyle.Render("run "+m.runID),
		m.statusStyle.Render(string(m.status)),
		m.dimStyle.Render(m.connState.String()),
	)
	b.WriteString(header + "\n")
	b.WriteString(m.progressLine() + "\n")

	if m.ready {
		b.WriteString(m.viewport.View() + "\n")
	} else {
		b.WriteString(strings.Join(m.lines, "\n") + "\n")
	}

	footer := "q quit"
	if m.cancel != nil && !m.finished {
		footer += "  c cancel"
	}
	if m.streamErr != nil {
		footer += "  " + m.errorStyle.Render("stream error: "+m.streamErr.Error())
	}
	b.WriteString(m.footerStyle.Render(footer))
	return b.String()
}

// progressLine summarizes task completion across the plan.
func (m *AttachModel) progressLine() string {
	if m.plan == nil {
		return m.dimStyle.Render("waiting for plan")
	}
	completed, total := m.plan.Counts()
	return fmt.Sprintf("%d/%d tasks completed", completed, total)
}
