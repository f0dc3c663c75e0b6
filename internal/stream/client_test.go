package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/maestro-ai/maestro/internal/pipeline"
	"github.com/maestro-ai/maestro/internal/runs"
	"github.com/maestro-ai/maestro/internal/server"
	"github.com/maestro-ai/maestro/pkg/models"
)

type stubPlanner struct{ plan *models.ImplementationPlan }

func (p *stubPlanner) BuildPlan(ctx context.Context, goal string, items []pipeline.ContextItem) (*models.ImplementationPlan, error) {
	return p.plan.Clone(), nil
}

type stubWorker struct{}

func (stubWorker) RunTask(ctx context.Context, task models.Task, items []pipeline.ContextItem) (pipeline.TaskResult, error) {
	return pipeline.TaskResult{Summary: "ok"}, nil
}

func startTestRun(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	plan := &models.ImplementationPlan{
		Goal: "goal",
		Milestones: []models.Milestone{
			{ID: "m1", Title: "m1", Tasks: []models.Task{{ID: "t1"}, {ID: "t2"}}},
		},
	}
	m := runs.NewManager(runs.Config{
		Planner: &stubPlanner{plan: plan},
		Worker:  stubWorker{},
	})
	t.Cleanup(m.Shutdown)

	ts := httptest.NewServer(server.New(m, nil).Handler())
	t.Cleanup(ts.Close)

	run, err := m.Start(context.Background(), "goal")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return ts, run.ID
}

func collect(t *testing.T, c *Client) []models.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make(chan models.Event, 64)
	errc := make(chan error, 1)
	go func() { errc <- c.Follow(ctx, out) }()

	var events []models.Event
	for ev := range out {
		events = append(events, ev)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	return events
}

func TestFollow_DeliversOrderedEvents(t *testing.T) {
	ts, runID := startTestRun(t)

	var states []ConnState
	c := New(ts.URL, runID, WithStateFunc(func(s ConnState) {
		states = append(states, s)
	}))
	events := collect(t, c)

	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	for i, ev := range events {
		if want := uint64(i + 1); ev.Seq != want {
			t.Errorf("event %d has seq %d, want %d", i, ev.Seq, want)
		}
	}
	if last := events[len(events)-1]; last.Type != models.EventDone {
		t.Errorf("last event = %s, want done", last.Type)
	}
	if c.LastSeq() != events[len(events)-1].Seq {
		t.Errorf("LastSeq = %d, want %d", c.LastSeq(), events[len(events)-1].Seq)
	}
	// The callback saw at least connecting, connected, disconnected.
	if len(states) < 3 || states[len(states)-1] != StateDisconnected {
		t.Errorf("state transitions = %v", states)
	}
}

// flakyProxy forwards to the real server but severs each streaming
// response after a fixed number of bytes, forcing the client to
// reconnect mid-stream.
func flakyProxy(t *testing.T, target string, cutAfter int) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	cuts := 0
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := http.NewRequestWithContext(r.Context(), r.Method, target+r.URL.String(), r.Body)
		if err != nil {
			t.Errorf("proxy request: %v", err)
			return
		}
		req.Header = r.Header.Clone()
		resp, err := http.DefaultTransport.RoundTrip(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)

		mu.Lock()
		sever := cuts < 2
		if sever {
			cuts++
		}
		mu.Unlock()

		written := 0
		buf := make([]byte, 256)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
				written += n
				if sever && written >= cutAfter {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	}))
	t.Cleanup(proxy.Close)
	return proxy
}

func TestFollow_ReconnectsWithoutGapsOrDuplicates(t *testing.T) {
	ts, runID := startTestRun(t)
	proxy := flakyProxy(t, ts.URL, 400)

	c := New(proxy.URL, runID)
	events := collect(t, c)

	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	for i, ev := range events {
		if want := uint64(i + 1); ev.Seq != want {
			t.Fatalf("event %d has seq %d, want %d (gap or duplicate across reconnect)", i, ev.Seq, want)
		}
	}
	if last := events[len(events)-1]; last.Type != models.EventDone {
		t.Errorf("last event = %s, want done", last.Type)
	}
}

func TestFollow_UnknownRun(t *testing.T) {
	ts, _ := startTestRun(t)

	c := New(ts.URL, "missing")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan models.Event, 8)
	err := c.Follow(ctx, out)
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

func TestConnStateString(t *testing.T) {
	for s, want := range map[ConnState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
	} {
		if got := fmt.Sprint(s); got != want {
			t.Errorf("ConnState(%d) = %q, want %q", s, got, want)
		}
	}
}
