package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Multi-stage agent pipeline engine",
	Long: `Maestro runs multi-stage agent pipelines: a goal is planned into
milestones and tasks, executed task by task, and every step is published
on an ordered, replayable event stream.

Core capabilities:
- Plans a goal into milestones and tasks with the Anthropic API
- Executes tasks sequentially with fail-fast semantics
- Streams progress over SSE with gap-free reconnection
- Cancels cooperatively at task boundaries
- Recalls knowledge from earlier runs during planning`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
