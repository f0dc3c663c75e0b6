package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/runs"
	"github.com/maestro-ai/maestro/pkg/models"
)

// KeepAliveInterval is how often an idle event stream emits a comment
// line so intermediaries don't drop the connection.
const KeepAliveInterval = 15 * time.Second

// Server exposes the run manager over HTTP. Event streams are served as
// SSE with sequence-numbered events so clients can resume without gaps.
type Server struct {
	manager *runs.Manager
	logger  *pipeline.DebugLogger
}

func New(manager *runs.Manager, logger *pipeline.DebugLogger) *Server {
	if logger == nil {
		logger = pipeline.NopLogger()
	}
	return &Server{manager: manager, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{runID}", s.handleGetRun)
		r.Get("/{runID}/events", s.handleRunEvents)
		r.Post("/{runID}/cancel", s.handleCancelRun)
	})

	return r
}

type createRunRequest struct {
	Goal string `json:"goal"`
}

type createRunResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type runResponse struct {
	models.Run
	Plan *models.ImplementationPlan `json:"plan,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Goal) == "" {
		writeError(w, http.StatusBadRequest, "goal required")
		return
	}

	run, err := s.manager.Start(r.Context(), req.Goal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Log("http: started run %s", run.ID)
	writeJSON(w, http.StatusCreated, createRunResponse{RunID: run.ID, Status: string(run.Status)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Run{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, plan, err := s.manager.Get(runID)
	if err != nil {
		if errors.Is(err, runs.ErrUnknownRun) {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Plan: plan})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.manager.RequestStop(runID); err != nil {
		if errors.Is(err, runs.ErrUnknownRun) {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// handleRunEvents streams a run's events as SSE. The client resumes from
// a sequence number given either as ?from= or the standard Last-Event-ID
// header; events at or after that sequence are replayed before live
// delivery, so a reconnecting client sees no gap and no duplicate.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	fromSeq := resumeSeq(r)

	ch, cancel, err := s.manager.Subscribe(runID, fromSeq)
	if err != nil {
		if errors.Is(err, runs.ErrUnknownRun) {
			writeError(w, http.StatusNotFound, "unknown run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-ch:
			if !open {
				// Terminal event already delivered or stream retired.
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resumeSeq reads the resume point from ?from= or Last-Event-ID.
// Returns 0 (full replay) when neither is present or parseable.
func resumeSeq(r *http.Request) uint64 {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
		if raw != "" {
			// Last-Event-ID carries the last seq the client saw;
			// resume from the one after it.
			if last, err := strconv.ParseUint(raw, 10, 64); err == nil {
				return last + 1
			}
			return 0
		}
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func writeSSE(w io.Writer, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, b)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
