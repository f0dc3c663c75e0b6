package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/maestro-ai/maestro/internal/config"
	"github.com/maestro-ai/maestro/internal/stream"
	"github.com/maestro-ai/maestro/internal/tui"
	"github.com/maestro-ai/maestro/pkg/models"
)

var attachServerURL string

var attachCmd = &cobra.Command{
	Use:   "attach <run-id>",
	Short: "Follow a run on a maestro server",
	Long: `Attach to a run's event stream on a running maestro server.

The stream resumes automatically after connection drops, without gaps
or duplicate events. Press 'c' to request cancellation, 'q' to detach
(the run keeps going).`,
	Args: cobra.ExactArgs(1),
	RunE: attachRun,
}

func init() {
	attachCmd.Flags().StringVar(&attachServerURL, "server", "", "Server base URL (default from config)")
	cancelCmd.Flags().StringVar(&cancelServerURL, "server", "", "Server base URL (default from config)")
}

// serverBaseURL resolves the control API base URL from flag or config.
func serverBaseURL(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return "http://" + cfg.Server.Addr, nil
}

func attachRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	baseURL, err := serverBaseURL(attachServerURL)
	if err != nil {
		return err
	}

	model := tui.NewAttachModel(runID, func() error {
		return requestCancel(baseURL, runID)
	})
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := stream.New(baseURL, runID, stream.WithStateFunc(func(s stream.ConnState) {
		program.Send(tui.ConnStateMsg{State: s})
	}))

	events := make(chan models.Event, 64)
	go func() {
		err := client.Follow(ctx, events)
		program.Send(tui.StreamClosedMsg{Err: err})
	}()
	go func() {
		for ev := range events {
			program.Send(tui.EventMsg{Event: ev})
		}
	}()

	_, err = program.Run()
	return err
}

// requestCancel posts a cancellation request to the server.
func requestCancel(baseURL, runID string) error {
	url := fmt.Sprintf("%s/v1/runs/%s/cancel", baseURL, runID)
	resp, err := http.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("cancel run %s: %s", runID, body.Error)
		}
		return fmt.Errorf("cancel run %s: %s", runID, resp.Status)
	}
	return nil
}
