package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/maestro-ai/maestro/internal/config"
	"github.com/maestro-ai/maestro/internal/runs"
	"github.com/maestro-ai/maestro/internal/tui"
	"github.com/maestro-ai/maestro/pkg/models"
)

var (
	runHeadless bool
	runPlanFile string
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a goal through the pipeline",
	Long: `Plan and execute a goal locally.

The goal is planned into milestones and tasks, then executed task by
task. Progress is shown in a TUI; use --headless for plain output.

Use --plan to execute a pre-written YAML plan file without calling the
Anthropic API.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGoal,
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Plain text output instead of the TUI")
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Execute a YAML plan file instead of planning with the API")
}

func runGoal(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manager, store, err := buildManager(cfg, runPlanFile)
	if err != nil {
		return err
	}
	defer store.Close()
	defer manager.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := manager.Start(ctx, goal)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	events, cancelSub, err := manager.Subscribe(run.ID, 0)
	if err != nil {
		return fmt.Errorf("subscribe to run: %w", err)
	}
	defer cancelSub()

	if runHeadless {
		return followHeadless(ctx, manager, run.ID, events)
	}
	return followTUI(manager, run.ID, events)
}

// followHeadless prints events as plain lines. Interrupt requests a
// cooperative stop; the run still finishes its in-flight task.
func followHeadless(ctx context.Context, manager *runs.Manager, runID string, events <-chan models.Event) error {
	fmt.Printf("run %s started\n", runID)

	stopped := false
	for {
		select {
		case <-ctx.Done():
			if !stopped {
				stopped = true
				fmt.Println("interrupt: requesting stop, finishing current task")
				_ = manager.RequestStop(runID)
			}
			ctx = context.Background()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(ev)
			if done, isDone := ev.Content.(models.DonePayload); isDone {
				if done.Status != models.RunCompleted {
					return fmt.Errorf("run %s %s", runID, done.Status)
				}
				return nil
			}
			if ev.Terminal() {
				return fmt.Errorf("run %s failed", runID)
			}
		}
	}
}

func printEvent(ev models.Event) {
	switch content := ev.Content.(type) {
	case models.LogPayload:
		fmt.Printf("[%s] %s\n", ev.Agent, content.Message)
	case models.InfoPayload:
		fmt.Println(content.Message)
	case models.PlanPayload:
		_, tasks := content.Plan.Counts()
		fmt.Printf("plan: %d milestones, %d tasks\n", len(content.Plan.Milestones), tasks)
	case models.TaskPayload:
		line := fmt.Sprintf("task %s: %s", content.TaskID, content.Status)
		if content.Status == models.StatusFailed {
			color.New(color.FgRed).Println(line + " " + content.Detail)
			return
		}
		fmt.Println(line)
	case models.MilestonePayload:
		fmt.Printf("milestone %s: %s\n", content.MilestoneID, content.Status)
	case models.ArtifactPayload:
		fmt.Printf("artifact %s (%s)\n", content.Name, content.Path)
	case models.ErrorPayload:
		color.New(color.FgRed).Printf("[%s] %s\n", content.Stage, content.Message)
	case models.DonePayload:
		switch content.Status {
		case models.RunCompleted:
			color.New(color.FgGreen).Printf("done: %s\n", content.Summary)
		default:
			color.New(color.FgYellow).Printf("%s: %s\n", content.Status, content.Summary)
		}
	}
}

// followTUI drives the attach view from a local event channel.
func followTUI(manager *runs.Manager, runID string, events <-chan models.Event) error {
	model := tui.NewAttachModel(runID, func() error {
		return manager.RequestStop(runID)
	})
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	go func() {
		for ev := range events {
			program.Send(tui.EventMsg{Event: ev})
		}
		program.Send(tui.StreamClosedMsg{})
	}()

	_, err := program.Run()
	return err
}
