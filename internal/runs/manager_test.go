package runs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maestro-ai/maestro/internal/bus"
	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/state"
	"github.com/maestro-ai/maestro/pkg/models"
)

// slowStore delays each journal append so the persistence sink falls
// behind the bus.
type slowStore struct {
	state.Store
	delay time.Duration
}

func (s *slowStore) AppendEvent(runID string, ev models.Event) error {
	time.Sleep(s.delay)
	return s.Store.AppendEvent(runID, ev)
}

type fixedPlanner struct {
	plan *models.ImplementationPlan
	err  error
}

func (p *fixedPlanner) BuildPlan(ctx context.Context, goal string, items []pipeline.ContextItem) (*models.ImplementationPlan, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.plan.Clone(), nil
}

// echoWorker completes every task; if gate is non-nil it signals on started
// and waits on release for the first task, so tests can cancel mid-task.
type echoWorker struct {
	started chan string
	release chan struct{}
}

func (w *echoWorker) RunTask(ctx context.Context, task models.Task, items []pipeline.ContextItem) (pipeline.TaskResult, error) {
	if w.started != nil {
		w.started <- task.ID
		<-w.release
	}
	return pipeline.TaskResult{Summary: "done " + task.ID}, nil
}

func smallPlan() *models.ImplementationPlan {
	return &models.ImplementationPlan{
		Goal: "goal",
		Milestones: []models.Milestone{
			{ID: "m1", Title: "only", Tasks: []models.Task{{ID: "t1"}, {ID: "t2"}}},
		},
	}
}

func openStore(t *testing.T) state.Store {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "maestro.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// waitTerminal drains the run's stream until the terminal event, returning
// all observed events.
func waitTerminal(t *testing.T, m *Manager, runID string) []models.Event {
	t.Helper()
	ch, cancel, err := m.Subscribe(runID, 0)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	var events []models.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Terminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("run %s never reached a terminal event (saw %d events)", runID, len(events))
		}
	}
}

func TestManager_RunToCompletion_Persisted(t *testing.T) {
	store := openStore(t)
	m := NewManager(Config{
		Store:   store,
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  &echoWorker{},
	})

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := waitTerminal(t, m, run.ID)
	if events[len(events)-1].Type != models.EventDone {
		t.Fatalf("last event = %s, want done", events[len(events)-1].Type)
	}

	m.Shutdown()

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.RunCompleted {
		t.Errorf("persisted status = %s, want completed", got.Status)
	}
	journal, err := store.ListEvents(run.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(journal) != len(events) {
		t.Errorf("journal has %d events, stream delivered %d", len(journal), len(events))
	}
}

func TestManager_StartDetachesFromCallerContext(t *testing.T) {
	m := NewManager(Config{
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  &echoWorker{},
	})

	// An HTTP handler's context is cancelled the moment the request
	// returns. The run it started must keep executing regardless; only
	// the stop token cancels a run.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := m.Start(ctx, "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := waitTerminal(t, m, run.ID)
	done := events[len(events)-1].Content.(models.DonePayload)
	if done.Status != models.RunCompleted {
		t.Errorf("done status = %s, want completed (caller context must not cancel the run)", done.Status)
	}
	if got := done.Plan.Task("t2").Status; got != models.StatusCompleted {
		t.Errorf("t2 = %s, want completed", got)
	}
	m.Shutdown()
}

func TestManager_JournalResubscribesAfterLagging(t *testing.T) {
	store := &slowStore{Store: openStore(t), delay: 20 * time.Millisecond}
	m := NewManager(Config{
		Bus:     bus.NewWithBuffer(1),
		Store:   store,
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  &echoWorker{},
	})

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Shutdown waits for the controller and the journal sink, so the
	// journal is fully flushed afterwards.
	m.Shutdown()

	if m.Bus().DroppedCount() == 0 {
		t.Fatal("sink never lagged behind the bus; nothing exercised")
	}

	// The stream is terminal, so this replays the complete history.
	ch, cancel, err := m.Subscribe(run.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()
	var live []models.Event
	for ev := range ch {
		live = append(live, ev)
	}

	journal, err := store.ListEvents(run.ID, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(journal) != len(live) {
		t.Fatalf("journal has %d of %d events: sink lost events after being dropped", len(journal), len(live))
	}
	for i := range live {
		if journal[i].Seq != live[i].Seq || journal[i].Type != live[i].Type {
			t.Errorf("journal event %d is %d/%s, stream had %d/%s", i,
				journal[i].Seq, journal[i].Type, live[i].Seq, live[i].Type)
		}
	}
	if last := journal[len(journal)-1]; !last.Terminal() {
		t.Errorf("journal ends at %s, want the terminal event", last.Type)
	}
}

func TestManager_RequestStop_UnknownRun(t *testing.T) {
	m := NewManager(Config{
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  &echoWorker{},
	})

	err := m.RequestStop("missing")
	if !errors.Is(err, ErrUnknownRun) {
		t.Errorf("got %v, want ErrUnknownRun", err)
	}
}

func TestManager_RequestStop_CancelsAtCheckpoint(t *testing.T) {
	worker := &echoWorker{started: make(chan string, 4), release: make(chan struct{})}
	m := NewManager(Config{
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  worker,
	})

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// t1 is in flight. Stop twice: idempotent, one terminal event.
	<-worker.started
	if err := m.RequestStop(run.ID); err != nil {
		t.Fatalf("RequestStop: %v", err)
	}
	if err := m.RequestStop(run.ID); err != nil {
		t.Fatalf("second RequestStop: %v", err)
	}
	close(worker.release)

	events := waitTerminal(t, m, run.ID)
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1", terminals)
	}

	done := events[len(events)-1].Content.(models.DonePayload)
	if done.Status != models.RunCancelled {
		t.Errorf("done status = %s, want cancelled", done.Status)
	}
	// t1 completed, t2 never started.
	if got := done.Plan.Task("t1").Status; got != models.StatusCompleted {
		t.Errorf("t1 = %s, want completed (in-flight task finishes normally)", got)
	}
	if got := done.Plan.Task("t2").Status; got != models.StatusPending {
		t.Errorf("t2 = %s, want pending", got)
	}
	m.Shutdown()
}

func TestManager_SubscribeFallsBackToJournalAfterRetire(t *testing.T) {
	store := openStore(t)
	m := NewManager(Config{
		Store:       store,
		Planner:     &fixedPlanner{plan: smallPlan()},
		Worker:      &echoWorker{},
		RetireGrace: 20 * time.Millisecond,
	})

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	live := waitTerminal(t, m, run.ID)
	m.Shutdown()

	// Wait for retirement, then subscribe again: events come from the
	// journal with identical sequence numbers.
	deadline := time.After(2 * time.Second)
	for {
		_, unsub, err := m.Bus().Subscribe(run.ID, 0)
		if err != nil {
			break
		}
		unsub()
		select {
		case <-deadline:
			t.Fatal("stream never retired")
		case <-time.After(10 * time.Millisecond):
		}
	}

	ch, cancel, err := m.Subscribe(run.ID, 0)
	if err != nil {
		t.Fatalf("Subscribe after retire: %v", err)
	}
	defer cancel()

	var replayed []models.Event
	for ev := range ch {
		replayed = append(replayed, ev)
	}
	if len(replayed) != len(live) {
		t.Fatalf("journal replay has %d events, live stream had %d", len(replayed), len(live))
	}
	for i := range live {
		if replayed[i].Seq != live[i].Seq || replayed[i].Type != live[i].Type {
			t.Errorf("event %d: journal %d/%s vs live %d/%s", i,
				replayed[i].Seq, replayed[i].Type, live[i].Seq, live[i].Type)
		}
	}

	// RequestStop after retirement: the run is no longer active.
	if err := m.RequestStop(run.ID); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("stop after retire: got %v, want ErrUnknownRun", err)
	}
}

func TestSignalWatcher_StopFile(t *testing.T) {
	worker := &echoWorker{started: make(chan string, 4), release: make(chan struct{})}
	m := NewManager(Config{
		Planner: &fixedPlanner{plan: smallPlan()},
		Worker:  worker,
	})

	dir := filepath.Join(t.TempDir(), "signals")
	sw, err := NewSignalWatcher(dir, m)
	if err != nil {
		t.Fatalf("NewSignalWatcher: %v", err)
	}
	defer sw.Close()

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-worker.started

	if err := os.WriteFile(filepath.Join(dir, stopSignalPrefix+run.ID), nil, 0644); err != nil {
		t.Fatalf("write signal: %v", err)
	}

	// The watcher removes the file once consumed; then release the
	// in-flight task and the run must end cancelled.
	deadline := time.After(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, stopSignalPrefix+run.ID)); os.IsNotExist(err) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("signal never consumed")
		case <-time.After(20 * time.Millisecond):
		}
	}
	close(worker.release)

	events := waitTerminal(t, m, run.ID)
	done := events[len(events)-1].Content.(models.DonePayload)
	if done.Status != models.RunCancelled {
		t.Errorf("done status = %s, want cancelled", done.Status)
	}
	m.Shutdown()
}
