package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/maestro-ai/maestro/internal/config"
	"github.com/maestro-ai/maestro/internal/runs"
	"github.com/maestro-ai/maestro/internal/server"
)

var (
	serveAddr     string
	servePlanFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maestro control API",
	Long: `Start the HTTP control API.

Endpoints:
  POST /v1/runs                start a run
  GET  /v1/runs                list runs
  GET  /v1/runs/{id}           run status and plan
  GET  /v1/runs/{id}/events    SSE event stream (resumable)
  POST /v1/runs/{id}/cancel    request cooperative cancellation
  GET  /healthz                health check

If server.signals_dir is configured, the server also watches that
directory for stop-<runID> signal files.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&servePlanFile, "plan", "", "Run offline against a YAML plan file instead of the API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manager, store, err := buildManager(cfg, servePlanFile)
	if err != nil {
		return err
	}
	defer store.Close()

	var watcher *runs.SignalWatcher
	if cfg.Server.SignalsDir != "" {
		watcher, err = runs.NewSignalWatcher(cfg.Server.SignalsDir, manager)
		if err != nil {
			return fmt.Errorf("start signal watcher: %w", err)
		}
		defer watcher.Close()
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(manager, nil).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	color.New(color.FgGreen).Printf("maestro listening on %s\n", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		fmt.Printf("\nreceived %s, shutting down\n", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	manager.Shutdown()
	return nil
}
