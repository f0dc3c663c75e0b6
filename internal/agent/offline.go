package agent

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/pkg/models"
)

// FilePlanner loads a pre-written plan document from a YAML file, for
// running pipelines without a model (testing, replays, canned demos).
//
// Document format:
//
//	goal: optional goal override
//	milestones:
//	  - id: m1
//	    title: First milestone
//	    tasks:
//	      - id: t1
//	        description: Do the thing
type FilePlanner struct {
	path string
}

func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{path: path}
}

var _ pipeline.Planner = (*FilePlanner)(nil)

func (p *FilePlanner) BuildPlan(ctx context.Context, goal string, items []pipeline.ContextItem) (*models.ImplementationPlan, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var header struct {
		Goal string `yaml:"goal"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", p.path, err)
	}
	var doc planDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", p.path, err)
	}
	if header.Goal != "" {
		goal = header.Goal
	}
	return planFromDoc(goal, doc)
}

// EchoWorker completes every task without doing any work. Paired with
// FilePlanner it exercises the full pipeline offline.
type EchoWorker struct{}

var _ pipeline.Worker = EchoWorker{}

func (EchoWorker) RunTask(ctx context.Context, task models.Task, items []pipeline.ContextItem) (pipeline.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.TaskResult{}, err
	}
	return pipeline.TaskResult{
		Summary: fmt.Sprintf("completed %s (offline)", task.ID),
	}, nil
}
