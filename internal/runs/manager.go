// Package runs owns the per-run registry: it starts pipeline controllers,
// persists their event journals, and accepts cancellation requests.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-ai/maestro/internal/bus"
	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/state"
	"github.com/maestro-ai/maestro/pkg/models"
)

// ErrUnknownRun is returned when an operation targets a run that does not
// exist or has already been retired.
var ErrUnknownRun = errors.New("unknown run")

// DefaultRetireGrace is how long a finished run's stream stays available
// for late readers before it is torn down.
const DefaultRetireGrace = 5 * time.Minute

// Config contains the collaborators shared by every run the manager starts.
type Config struct {
	// Bus carries run event streams.
	Bus *bus.Bus
	// Store persists runs and their event journals. May be nil for
	// purely in-memory operation.
	Store state.Store
	// Planner and Worker are the pipeline's external capabilities.
	Planner pipeline.Planner
	Worker  pipeline.Worker
	// Context is the optional knowledge lookup. May be nil.
	Context pipeline.ContextSource
	// Logger receives debug output. May be nil.
	Logger *pipeline.DebugLogger
	// RetireGrace overrides DefaultRetireGrace when positive.
	RetireGrace time.Duration
}

// handle tracks one live (or recently finished, within the grace period)
// run.
type handle struct {
	run  models.Run
	ctrl *pipeline.Controller
	stop *pipeline.StopToken
}

// Manager creates, tracks and cancels runs. It is safe for concurrent use.
type Manager struct {
	cfg Config

	mu     sync.RWMutex
	active map[string]*handle

	wg sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Bus == nil {
		cfg.Bus = bus.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = pipeline.NopLogger()
	}
	if cfg.RetireGrace <= 0 {
		cfg.RetireGrace = DefaultRetireGrace
	}
	return &Manager{
		cfg:    cfg,
		active: make(map[string]*handle),
	}
}

// Bus returns the event bus shared by all runs.
func (m *Manager) Bus() *bus.Bus {
	return m.cfg.Bus
}

// Start creates a run for the goal and launches its controller. The run
// executes asynchronously; progress is observable on the event bus.
func (m *Manager) Start(ctx context.Context, goal string) (models.Run, error) {
	if m.cfg.Planner == nil || m.cfg.Worker == nil {
		return models.Run{}, fmt.Errorf("start run: planner and worker are required")
	}

	run := models.Run{
		ID:        uuid.New().String()[:8],
		Goal:      goal,
		Status:    models.RunPlanning,
		CreatedAt: time.Now().UTC(),
	}

	if m.cfg.Store != nil {
		if err := m.cfg.Store.CreateRun(&run); err != nil {
			return models.Run{}, fmt.Errorf("persist run: %w", err)
		}
	}

	m.cfg.Bus.Open(run.ID)

	stop := pipeline.NewStopToken()
	ctrl := pipeline.New(pipeline.Config{
		RunID:   run.ID,
		Goal:    goal,
		Planner: m.cfg.Planner,
		Worker:  m.cfg.Worker,
		Context: m.cfg.Context,
		Bus:     m.cfg.Bus,
		Stop:    stop,
		Logger:  m.cfg.Logger,
	})

	h := &handle{run: run, ctrl: ctrl, stop: stop}
	m.mu.Lock()
	m.active[run.ID] = h
	m.mu.Unlock()

	if m.cfg.Store != nil {
		m.startJournal(run.ID)
	}

	// The caller's context covers only this call. A run outlives the
	// request that started it; cancellation enters through the stop token
	// (RequestStop, stop signals, Shutdown), never the caller's context.
	runCtx := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := ctrl.Run(runCtx); err != nil {
			m.cfg.Logger.Log("[manager] run %s ended: %v", run.ID, err)
		}
		m.finishRun(run.ID, ctrl.Status())
	}()

	return run, nil
}

// startJournal subscribes a persistence sink to the run's stream and writes
// every event to the store. The sink keeps its own subscription so a slow
// disk never throttles live observers: if the bus drops it for lagging, it
// resubscribes from the last sequence it persisted, so the journal stays
// gapless through the terminal event.
func (m *Manager) startJournal(runID string) {
	ch, cancel, err := m.cfg.Bus.Subscribe(runID, 0)
	if err != nil {
		m.cfg.Logger.Log("[manager] journal subscribe %s: %v", runID, err)
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var last uint64
		for {
			terminal := false
			for ev := range ch {
				if err := m.cfg.Store.AppendEvent(runID, ev); err != nil {
					m.cfg.Logger.Log("[manager] journal %s/%d: %v", runID, ev.Seq, err)
				}
				last = ev.Seq
				terminal = ev.Terminal()
			}
			cancel()
			if terminal {
				return
			}
			// Dropped for lagging before the terminal event. The bus still
			// holds the run's history, so pick up where the journal left off.
			m.cfg.Logger.Log("[manager] journal %s lagged, resubscribing from %d", runID, last+1)
			ch, cancel, err = m.cfg.Bus.Subscribe(runID, last+1)
			if err != nil {
				m.cfg.Logger.Log("[manager] journal resubscribe %s: %v", runID, err)
				return
			}
		}
	}()
}

// finishRun records the terminal status and schedules stream retirement
// after the grace period for late readers.
func (m *Manager) finishRun(runID string, status models.RunStatus) {
	if m.cfg.Store != nil {
		if err := m.cfg.Store.UpdateRunStatus(runID, status); err != nil {
			m.cfg.Logger.Log("[manager] update run %s: %v", runID, err)
		}
	}

	m.mu.Lock()
	if h, ok := m.active[runID]; ok {
		h.run.Status = status
	}
	m.mu.Unlock()

	time.AfterFunc(m.cfg.RetireGrace, func() { m.retire(runID) })
}

// retire removes the run from the registry and tears down its bus stream.
func (m *Manager) retire(runID string) {
	m.mu.Lock()
	delete(m.active, runID)
	m.mu.Unlock()
	m.cfg.Bus.Retire(runID)
}

// RequestStop requests cooperative cancellation of a run. It is idempotent:
// repeated calls on a stopping or already-terminal registered run succeed
// silently. A run that was never started, or whose stream has been retired,
// yields ErrUnknownRun.
func (m *Manager) RequestStop(runID string) error {
	m.mu.RLock()
	h, ok := m.active[runID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("stop %s: %w", runID, ErrUnknownRun)
	}
	h.stop.Stop()
	return nil
}

// Get returns the run's current record and, when available, its live plan
// snapshot. Finished runs are served from the store after retirement.
func (m *Manager) Get(runID string) (models.Run, *models.ImplementationPlan, error) {
	m.mu.RLock()
	h, ok := m.active[runID]
	m.mu.RUnlock()
	if ok {
		run := h.run
		run.Status = h.ctrl.Status()
		return run, h.ctrl.PlanSnapshot(), nil
	}

	if m.cfg.Store != nil {
		run, err := m.cfg.Store.GetRun(runID)
		if err == nil {
			return *run, nil, nil
		}
	}
	return models.Run{}, nil, fmt.Errorf("get %s: %w", runID, ErrUnknownRun)
}

// List returns all known runs, preferring live statuses for active ones.
func (m *Manager) List() ([]models.Run, error) {
	var out []models.Run
	seen := make(map[string]bool)

	m.mu.RLock()
	for id, h := range m.active {
		run := h.run
		run.Status = h.ctrl.Status()
		out = append(out, run)
		seen[id] = true
	}
	m.mu.RUnlock()

	if m.cfg.Store != nil {
		stored, err := m.cfg.Store.ListRuns()
		if err != nil {
			return nil, err
		}
		for _, r := range stored {
			if !seen[r.ID] {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Subscribe returns the run's event stream from fromSeq onward. Live runs
// are served by the bus; retired runs fall back to the persisted journal,
// delivered as a closed replay channel.
func (m *Manager) Subscribe(runID string, fromSeq uint64) (<-chan models.Event, func(), error) {
	ch, cancel, err := m.cfg.Bus.Subscribe(runID, fromSeq)
	if err == nil {
		return ch, cancel, nil
	}

	if m.cfg.Store != nil {
		events, serr := m.cfg.Store.ListEvents(runID, fromSeq)
		if serr == nil && len(events) > 0 {
			replay := make(chan models.Event, len(events))
			for _, ev := range events {
				replay <- ev
			}
			close(replay)
			return replay, func() {}, nil
		}
	}
	return nil, nil, fmt.Errorf("subscribe %s: %w", runID, ErrUnknownRun)
}

// Shutdown requests a stop for every live run and waits for controllers
// and journal sinks to finish.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	for _, h := range m.active {
		h.stop.Stop()
	}
	m.mu.RUnlock()
	m.wg.Wait()
}
