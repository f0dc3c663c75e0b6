package main

import (
	"fmt"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/maestro-ai/maestro/internal/agent"
	"github.com/maestro-ai/maestro/internal/bus"
	"github.com/maestro-ai/maestro/internal/config"
	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/retrieval"
	"github.com/maestro-ai/maestro/internal/runs"
	"github.com/maestro-ai/maestro/internal/state"
)

// buildManager assembles a run manager from configuration. With planFile
// set, the pipeline runs offline against a canned plan instead of the
// Anthropic API.
func buildManager(cfg *config.Config, planFile string) (*runs.Manager, state.Store, error) {
	db, err := state.OpenDefault()
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}

	logger := pipeline.NewDebugLoggerForDataDir(filepath.Dir(state.DefaultDBPath()))

	var planner pipeline.Planner
	var worker pipeline.Worker
	if planFile != "" {
		planner = agent.NewFilePlanner(planFile)
		worker = agent.EchoWorker{}
	} else {
		apiKey, err := config.GetAPIKey(cfg)
		if err != nil && !cfg.Anthropic.Bedrock {
			db.Close()
			return nil, nil, err
		}
		client, err := agent.NewClient(agent.ClientConfig{
			Model:         anthropic.Model(cfg.Anthropic.Model),
			APIKey:        apiKey,
			UseAWSBedrock: cfg.Anthropic.Bedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create anthropic client: %w", err)
		}
		planner = agent.NewPlanner(client)
		worker = agent.NewWorker(client)
	}

	var source pipeline.ContextSource
	if cfg.Retrieval.Enabled {
		source = retrieval.New(db)
	}

	eventBus := bus.New()
	if cfg.Runs.SubscriberBuffer > 0 {
		eventBus = bus.NewWithBuffer(cfg.Runs.SubscriberBuffer)
	}

	manager := runs.NewManager(runs.Config{
		Bus:         eventBus,
		Store:       db,
		Planner:     planner,
		Worker:      worker,
		Context:     source,
		Logger:      logger,
		RetireGrace: cfg.Runs.RetireGrace,
	})
	return manager, db, nil
}
