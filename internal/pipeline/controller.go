package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Config contains the required collaborators for a Controller.
type Config struct {
	// RunID identifies the run on the event bus.
	RunID string
	// Goal is the user request driving the run.
	Goal string
	// Planner produces the implementation plan.
	Planner Planner
	// Worker executes individual tasks.
	Worker Worker
	// Bus receives every emitted event.
	Bus Publisher
	// Stop is the cooperative cancellation token checked at task boundaries.
	Stop *StopToken
	// Context is the optional knowledge lookup. May be nil.
	Context ContextSource
	// Logger receives debug output. May be nil.
	Logger *DebugLogger
}

// Controller owns one pipeline execution. It is the sole writer of the
// run's plan model and emits exactly one terminal event per run.
type Controller struct {
	cfg Config

	mu       sync.RWMutex
	status   models.RunStatus
	plan     *models.ImplementationPlan
	terminal bool
}

// New creates a Controller in the Idle state.
func New(cfg Config) *Controller {
	if cfg.Stop == nil {
		cfg.Stop = NewStopToken()
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	return &Controller{cfg: cfg, status: models.RunIdle}
}

// Status returns the run's current lifecycle state.
func (c *Controller) Status() models.RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// PlanSnapshot returns a deep copy of the current plan, or nil before the
// planning stage has produced one.
func (c *Controller) PlanSnapshot() *models.ImplementationPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plan.Clone()
}

// Run executes the pipeline to a terminal state. It returns an error only
// for failed or cancelled runs; in every case the terminal state has been
// reached and the terminal event emitted when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.setStatus(models.RunPlanning)
	c.cfg.Logger.Log("[run %s] planning: %s", c.cfg.RunID, c.cfg.Goal)

	items := c.analyse(ctx)

	plan, err := c.cfg.Planner.BuildPlan(ctx, c.cfg.Goal, items)
	if err != nil {
		// The run ends without ever entering Executing and without a
		// plan; the terminal event is a fatal error.
		c.setStatus(models.RunFailed)
		c.emit(AgentArchitect, models.ErrorPayload{
			Stage:   AgentArchitect,
			Message: err.Error(),
			Fatal:   true,
		})
		c.cfg.Logger.Log("[run %s] planning failed: %v", c.cfg.RunID, err)
		return fmt.Errorf("planning: %w", err)
	}

	c.mu.Lock()
	c.plan = plan
	c.mu.Unlock()
	c.emit(AgentArchitect, models.PlanPayload{Plan: plan.Clone()})
	c.cfg.Logger.Log("[run %s] plan ready: %d milestones", c.cfg.RunID, len(plan.Milestones))

	if c.checkpoint(ctx) {
		return c.finish(models.RunCancelled)
	}

	c.setStatus(models.RunExecuting)
	return c.execute(ctx, items)
}

// analyse runs the analysis stage: it gathers context for the run. Lookup
// failures degrade to an info event; they never fail the run.
func (c *Controller) analyse(ctx context.Context) []ContextItem {
	if c.cfg.Context == nil {
		return nil
	}

	c.emit(AgentAnalyst, models.ThoughtPayload{Text: "gathering context for: " + c.cfg.Goal})
	items, err := c.cfg.Context.Lookup(ctx, c.cfg.Goal)
	if err != nil {
		c.emit(AgentAnalyst, models.InfoPayload{
			Message: "context retrieval unavailable, continuing without it: " + err.Error(),
		})
		c.cfg.Logger.Log("[run %s] retrieval failed: %v", c.cfg.RunID, err)
		return nil
	}
	c.emit(AgentAnalyst, models.LogPayload{
		Level:   "info",
		Message: fmt.Sprintf("retrieved %d context items", len(items)),
	})
	return items
}

// execute iterates milestones and tasks strictly in order, honoring
// cancellation checkpoints between tasks.
func (c *Controller) execute(ctx context.Context, items []ContextItem) error {
	for mi := 0; mi < c.milestoneCount(); mi++ {
		milestone := c.milestoneAt(mi)

		for ti := range milestone.Tasks {
			if c.checkpoint(ctx) {
				return c.finish(models.RunCancelled)
			}

			taskID := milestone.Tasks[ti].ID
			task := c.setTaskStatus(milestone.ID, taskID, models.StatusRunning, "")
			c.emit(AgentImplementer, models.TaskPayload{
				TaskID:      taskID,
				MilestoneID: milestone.ID,
				Status:      models.StatusRunning,
			})
			c.cfg.Logger.Log("[run %s] task %s running", c.cfg.RunID, taskID)

			result, err := c.cfg.Worker.RunTask(ctx, task, items)
			if err != nil {
				c.setTaskStatus(milestone.ID, taskID, models.StatusFailed, err.Error())
				c.emit(AgentImplementer, models.TaskPayload{
					TaskID:      taskID,
					MilestoneID: milestone.ID,
					Status:      models.StatusFailed,
					Detail:      err.Error(),
				})
				c.emit(AgentImplementer, models.MilestonePayload{
					MilestoneID: milestone.ID,
					Title:       milestone.Title,
					Status:      models.StatusFailed,
				})
				c.cfg.Logger.Log("[run %s] task %s failed: %v", c.cfg.RunID, taskID, err)
				// Fail fast: remaining tasks and milestones never start.
				if ferr := c.finish(models.RunFailed); ferr != nil {
					return ferr
				}
				return fmt.Errorf("task %s: %w", taskID, err)
			}

			c.setTaskStatus(milestone.ID, taskID, models.StatusCompleted, result.Summary)
			for _, art := range result.Artifacts {
				c.emit(AgentImplementer, art)
			}
			c.emit(AgentImplementer, models.TaskPayload{
				TaskID:      taskID,
				MilestoneID: milestone.ID,
				Status:      models.StatusCompleted,
				Detail:      result.Summary,
			})
			c.cfg.Logger.Log("[run %s] task %s completed", c.cfg.RunID, taskID)
		}

		status := c.milestoneStatus(milestone.ID)
		c.emit(AgentImplementer, models.MilestonePayload{
			MilestoneID: milestone.ID,
			Title:       milestone.Title,
			Status:      status,
		})
	}

	return c.finish(models.RunCompleted)
}

// AmendPlan appends milestones to the live plan. The plan is append-only:
// milestones already present are never altered. Amending is rejected once
// the run is terminal. The amendment and its plan event are published
// atomically, so the snapshot always precedes any event of the milestones
// it introduced.
func (c *Controller) AmendPlan(milestones []models.Milestone) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal || c.plan == nil {
		return fmt.Errorf("amend run %s: plan not amendable", c.cfg.RunID)
	}
	c.plan.Milestones = append(c.plan.Milestones, milestones...)
	c.emitLocked(AgentArchitect, models.PlanPayload{Plan: c.plan.Clone()})
	return nil
}

// checkpoint reports whether the run should stop here. Stops come from the
// cancellation token or from context cancellation (daemon shutdown); both
// are observed only between tasks.
func (c *Controller) checkpoint(ctx context.Context) bool {
	return c.cfg.Stop.Stopped() || ctx.Err() != nil
}

// finish transitions to the terminal status and emits the single done
// event carrying the final plan snapshot.
func (c *Controller) finish(status models.RunStatus) error {
	c.setStatus(status)

	completed, total := 0, 0
	snapshot := c.PlanSnapshot()
	if snapshot != nil {
		completed, total = snapshot.Counts()
	}
	c.emit(AgentController, models.DonePayload{
		Status:  status,
		Plan:    snapshot,
		Summary: fmt.Sprintf("%d/%d tasks completed", completed, total),
	})
	c.cfg.Logger.Log("[run %s] finished: %s (%d/%d tasks)", c.cfg.RunID, status, completed, total)

	if status == models.RunCancelled {
		return fmt.Errorf("run %s cancelled", c.cfg.RunID)
	}
	return nil
}

// emit publishes one event, guarding the exactly-one-terminal invariant.
func (c *Controller) emit(agent string, content models.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(agent, content)
}

// emitLocked publishes while holding c.mu, so an event and the state change
// it reports reach the bus atomically with respect to other emitters.
func (c *Controller) emitLocked(agent string, content models.Payload) {
	ev := models.NewEvent(agent, content)

	if c.terminal {
		c.cfg.Logger.Log("[run %s] dropped %s event after terminal", c.cfg.RunID, ev.Type)
		return
	}
	if ev.Terminal() {
		c.terminal = true
	}

	if _, err := c.cfg.Bus.Publish(c.cfg.RunID, ev); err != nil {
		c.cfg.Logger.Log("[run %s] publish %s: %v", c.cfg.RunID, ev.Type, err)
	}
}

func (c *Controller) setStatus(s models.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = s
}

func (c *Controller) milestoneCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.plan == nil {
		return 0
	}
	return len(c.plan.Milestones)
}

// milestoneAt returns a copy of the milestone at the given index.
func (c *Controller) milestoneAt(i int) models.Milestone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.plan.Milestones[i]
	tasks := make([]models.Task, len(m.Tasks))
	copy(tasks, m.Tasks)
	m.Tasks = tasks
	return m
}

func (c *Controller) milestoneStatus(id string) models.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.plan.Milestones {
		if c.plan.Milestones[i].ID == id {
			return c.plan.Milestones[i].Status()
		}
	}
	return models.StatusPending
}

// setTaskStatus mutates the task in the plan and returns a copy of it.
// Terminal task statuses are monotonic: a completed or failed task is
// never regressed.
func (c *Controller) setTaskStatus(milestoneID, taskID string, status models.Status, detail string) models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	task := c.plan.Task(taskID)
	if task == nil {
		return models.Task{ID: taskID}
	}
	if !task.Status.Terminal() {
		task.Status = status
		if detail != "" {
			task.Detail = detail
		}
		if status.Terminal() {
			now := time.Now().UTC()
			task.CompletedAt = &now
		}
	}
	return *task
}
