package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cancelServerURL string

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Request cancellation of a run",
	Long: `Request cooperative cancellation of a run on a maestro server.

The run stops at the next task boundary; the task in flight finishes
normally. Repeating the request has no additional effect.`,
	Args: cobra.ExactArgs(1),
	RunE: cancelRun,
}

func cancelRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	baseURL, err := serverBaseURL(cancelServerURL)
	if err != nil {
		return err
	}

	if err := requestCancel(baseURL, runID); err != nil {
		return err
	}
	color.New(color.FgYellow).Printf("cancellation requested for run %s\n", runID)
	fmt.Println("the run will stop after its current task")
	return nil
}
