// Package pipeline drives one run through the analysis, architecture and
// implementation stages, maintaining the plan model and emitting events.
package pipeline

import (
	"context"

	"github.com/maestro-ai/maestro/pkg/models"
)

// Stage labels used as the originating agent on emitted events.
const (
	AgentController  = "controller"
	AgentAnalyst     = "analyst"
	AgentArchitect   = "architect"
	AgentImplementer = "implementer"
)

// ContextItem is one ranked piece of retrieved knowledge.
type ContextItem struct {
	// Topic is the short label of the item.
	Topic string
	// Content is the item body handed to agents.
	Content string
	// Score is the retrieval ranking score (higher is better).
	Score float64
}

// ContextSource is the external knowledge lookup capability. A failing or
// empty lookup must never fail the run.
type ContextSource interface {
	Lookup(ctx context.Context, query string) ([]ContextItem, error)
}

// Planner is the architecture-stage capability: it turns the goal and
// retrieved context into an implementation plan.
type Planner interface {
	BuildPlan(ctx context.Context, goal string, items []ContextItem) (*models.ImplementationPlan, error)
}

// TaskResult is the outcome of one task's underlying work.
type TaskResult struct {
	// Summary describes what the worker did.
	Summary string
	// Artifacts lists outputs produced while executing the task.
	Artifacts []models.ArtifactPayload
}

// Worker is the implementation-stage capability: it executes a single task.
// The controller treats it as an opaque operation with success or failure.
type Worker interface {
	RunTask(ctx context.Context, task models.Task, items []ContextItem) (TaskResult, error)
}

// Publisher is the slice of the event bus the controller needs.
type Publisher interface {
	Publish(runID string, ev models.Event) (uint64, error)
}
