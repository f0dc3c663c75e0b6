package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/pkg/models"
)

const plannerSystemPrompt = `You are the planning stage of an engineering pipeline.
Given a goal, produce an implementation plan as JSON with this shape:
{
  "milestones": [
    {"id": "m1", "title": "...", "tasks": [
      {"id": "t1", "description": "..."}
    ]}
  ]
}
Milestone and task IDs must be unique across the whole plan. Keep the
plan small and concrete. Respond with JSON only.`

// planDoc is the wire shape the model is asked to produce.
type planDoc struct {
	Milestones []struct {
		ID    string `json:"id" yaml:"id"`
		Title string `json:"title" yaml:"title"`
		Tasks []struct {
			ID          string `json:"id" yaml:"id"`
			Description string `json:"description" yaml:"description"`
		} `json:"tasks" yaml:"tasks"`
	} `json:"milestones" yaml:"milestones"`
}

// Planner builds implementation plans by prompting the model.
type Planner struct {
	client *Client
}

func NewPlanner(client *Client) *Planner {
	return &Planner{client: client}
}

var _ pipeline.Planner = (*Planner)(nil)

func (p *Planner) BuildPlan(ctx context.Context, goal string, items []pipeline.ContextItem) (*models.ImplementationPlan, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Goal:\n%s\n", goal)
	if len(items) > 0 {
		prompt.WriteString("\nRelevant context from earlier runs:\n")
		for _, item := range items {
			fmt.Fprintf(&prompt, "- [%s] %s\n", item.Topic, item.Content)
		}
	}

	response, err := p.client.complete(ctx, plannerSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	var doc planDoc
	if err := extractJSON(response, &doc); err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}
	return planFromDoc(goal, doc)
}

// planFromDoc validates a plan document and converts it to the model
// form, with every milestone and task starting out pending.
func planFromDoc(goal string, doc planDoc) (*models.ImplementationPlan, error) {
	if len(doc.Milestones) == 0 {
		return nil, fmt.Errorf("plan has no milestones")
	}

	seen := make(map[string]bool)
	plan := &models.ImplementationPlan{Goal: goal}
	for i, m := range doc.Milestones {
		if m.ID == "" {
			return nil, fmt.Errorf("milestone %d has no id", i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate milestone id %q", m.ID)
		}
		seen[m.ID] = true

		milestone := models.Milestone{ID: m.ID, Title: m.Title}
		for j, task := range m.Tasks {
			if task.ID == "" {
				return nil, fmt.Errorf("milestone %q task %d has no id", m.ID, j)
			}
			if seen[task.ID] {
				return nil, fmt.Errorf("duplicate task id %q", task.ID)
			}
			seen[task.ID] = true
			milestone.Tasks = append(milestone.Tasks, models.Task{
				ID:          task.ID,
				Description: task.Description,
				Status:      models.StatusPending,
			})
		}
		plan.Milestones = append(plan.Milestones, milestone)
	}
	return plan, nil
}

// extractJSON finds the JSON object or array in a model response,
// tolerating prose or markdown fences around it.
func extractJSON(response string, target any) error {
	jsonStart := strings.Index(response, "{")
	if jsonStart == -1 {
		jsonStart = strings.Index(response, "[")
	}
	jsonEnd := strings.LastIndex(response, "}")
	if jsonEnd == -1 {
		jsonEnd = strings.LastIndex(response, "]")
	}
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return fmt.Errorf("no valid JSON found in response: %s", truncate(response, 200))
	}

	jsonStr := response[jsonStart : jsonEnd+1]
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("parse JSON: %w (response: %s)", err, truncate(jsonStr, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
