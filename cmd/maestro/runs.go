package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maestro-ai/maestro/internal/state"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs",
	Long:  `List recorded runs, newest first.`,
	RunE:  listRuns,
}

func listRuns(cmd *cobra.Command, args []string) error {
	db, err := state.OpenDefault()
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	runs, err := db.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded. Start one with 'maestro run <goal>'.")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Status", "Created", "Finished", "Goal"})
	for _, run := range runs {
		finished := ""
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format("2006-01-02 15:04:05")
		}
		goal := run.Goal
		if len(goal) > 60 {
			goal = goal[:57] + "..."
		}
		tw.AppendRow(table.Row{
			run.ID,
			run.Status,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			finished,
			goal,
		})
	}
	tw.Render()
	return nil
}
