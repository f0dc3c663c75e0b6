package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/pkg/models"
)

const workerSystemPrompt = `You are the implementation stage of an engineering pipeline.
Execute the given task and report the outcome as JSON:
{
  "summary": "one sentence describing what was done",
  "artifacts": [
    {"name": "...", "path": "...", "summary": "..."}
  ]
}
The artifacts list may be empty. Respond with JSON only.`

// taskReport is the wire shape the model is asked to produce per task.
type taskReport struct {
	Summary   string `json:"summary"`
	Artifacts []struct {
		Name    string `json:"name"`
		Path    string `json:"path"`
		Summary string `json:"summary"`
	} `json:"artifacts"`
}

// Worker executes plan tasks by prompting the model.
type Worker struct {
	client *Client
}

func NewWorker(client *Client) *Worker {
	return &Worker{client: client}
}

var _ pipeline.Worker = (*Worker)(nil)

func (w *Worker) RunTask(ctx context.Context, task models.Task, items []pipeline.ContextItem) (pipeline.TaskResult, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Task %s:\n%s\n", task.ID, task.Description)
	if len(items) > 0 {
		prompt.WriteString("\nRelevant context from earlier runs:\n")
		for _, item := range items {
			fmt.Fprintf(&prompt, "- [%s] %s\n", item.Topic, item.Content)
		}
	}

	response, err := w.client.complete(ctx, workerSystemPrompt, prompt.String())
	if err != nil {
		return pipeline.TaskResult{}, fmt.Errorf("task %s: %w", task.ID, err)
	}

	var report taskReport
	if err := extractJSON(response, &report); err != nil {
		return pipeline.TaskResult{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if report.Summary == "" {
		return pipeline.TaskResult{}, fmt.Errorf("task %s: report has no summary", task.ID)
	}

	result := pipeline.TaskResult{Summary: report.Summary}
	for _, a := range report.Artifacts {
		result.Artifacts = append(result.Artifacts, models.ArtifactPayload{
			Name:    a.Name,
			Path:    a.Path,
			Summary: a.Summary,
		})
	}
	return result, nil
}
