package bus

import (
	"testing"
	"time"

	"github.com/maestro-ai/maestro/pkg/models"
)

func publishN(t *testing.T, b *Bus, runID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := b.Publish(runID, models.NewEvent("test", models.InfoPayload{Message: "m"})); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
}

func collect(t *testing.T, ch <-chan models.Event, n int) []models.Event {
	t.Helper()
	out := make([]models.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublish_UnknownRun(t *testing.T) {
	b := New()
	if _, err := b.Publish("nope", models.NewEvent("x", models.InfoPayload{})); err == nil {
		t.Error("expected error publishing to unopened stream")
	}
}

func TestSubscribe_SameOrderForAllSubscribers(t *testing.T) {
	b := New()
	b.Open("r1")

	ch1, cancel1, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel1()
	ch2, cancel2, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel2()

	publishN(t, b, "r1", 20)

	got1 := collect(t, ch1, 20)
	got2 := collect(t, ch2, 20)
	for i := range got1 {
		if got1[i].Seq != uint64(i+1) {
			t.Fatalf("subscriber 1 event %d has seq %d", i, got1[i].Seq)
		}
		if got1[i].Seq != got2[i].Seq {
			t.Fatalf("subscribers disagree at position %d: %d vs %d", i, got1[i].Seq, got2[i].Seq)
		}
	}
}

func TestSubscribe_ReplayThenLive_NoGapsNoDuplicates(t *testing.T) {
	b := New()
	b.Open("r1")
	publishN(t, b, "r1", 5)

	// Reconnect having seen everything through seq 3.
	ch, cancel, err := b.Subscribe("r1", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	publishN(t, b, "r1", 3)

	got := collect(t, ch, 5)
	for i, ev := range got {
		want := uint64(4 + i)
		if ev.Seq != want {
			t.Errorf("event %d: seq %d, want %d", i, ev.Seq, want)
		}
	}
}

func TestPublish_SlowSubscriberDropped(t *testing.T) {
	b := NewWithBuffer(2)
	b.Open("r1")

	ch, cancel, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	// Nobody draining ch: publish must not block and must drop the
	// subscriber once its buffer overflows.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_, _ = b.Publish("r1", models.NewEvent("test", models.InfoPayload{Message: "m"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	if b.DroppedCount() == 0 {
		t.Error("expected the lagging subscriber to be dropped")
	}

	// The dropped subscriber's channel ends closed.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("dropped subscriber channel never closed")
		}
	}
}

func TestTerminalEvent_ClosesSubscribers(t *testing.T) {
	b := New()
	b.Open("r1")

	ch, cancel, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	if _, err := b.Publish("r1", models.NewEvent("controller", models.DonePayload{Status: models.RunCompleted})); err != nil {
		t.Fatal(err)
	}

	got := collect(t, ch, 1)
	if got[0].Type != models.EventDone {
		t.Errorf("got %s, want done", got[0].Type)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after the terminal event")
	}

	// Nothing may be published after the terminal event.
	if _, err := b.Publish("r1", models.NewEvent("x", models.InfoPayload{})); err == nil {
		t.Error("expected error publishing after terminal event")
	}
}

func TestSubscribe_AfterTerminal_ReplaysAndCloses(t *testing.T) {
	b := New()
	b.Open("r1")
	publishN(t, b, "r1", 3)
	if _, err := b.Publish("r1", models.NewEvent("controller", models.DonePayload{Status: models.RunCompleted})); err != nil {
		t.Fatal(err)
	}

	ch, cancel, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	got := collect(t, ch, 4)
	if got[3].Type != models.EventDone {
		t.Errorf("last replayed event is %s, want done", got[3].Type)
	}
	if _, ok := <-ch; ok {
		t.Error("late subscriber channel should close after replay")
	}
}

func TestRetire_ReleasesStream(t *testing.T) {
	b := New()
	b.Open("r1")

	ch, cancel, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	b.Retire("r1")

	if _, ok := <-ch; ok {
		t.Error("subscriber should be closed on retire")
	}
	if _, _, err := b.Subscribe("r1", 0); err == nil {
		t.Error("expected unknown stream after retire")
	}
}

func TestCancel_Idempotent(t *testing.T) {
	b := New()
	b.Open("r1")

	_, cancel, err := b.Subscribe("r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	cancel() // must not panic

	publishN(t, b, "r1", 1)
}
