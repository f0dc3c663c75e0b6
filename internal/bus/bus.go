// Package bus provides per-run ordered event broadcast with replay.
//
// Each run owns one stream: an append-only history plus a set of live
// subscribers. Publishing never blocks on a slow subscriber; a subscriber
// whose buffer fills is dropped and must reconnect from its last-seen
// sequence number.
package bus

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/maestro-ai/maestro/pkg/models"
)

// ErrUnknownStream is returned for operations on a run with no open stream.
var ErrUnknownStream = errors.New("bus: unknown run stream")

// DefaultSubscriberBuffer is the per-subscriber live buffer size.
const DefaultSubscriberBuffer = 64

// Bus multiplexes run event streams to subscribers.
type Bus struct {
	mu      sync.RWMutex
	streams map[string]*stream

	buffer  int
	dropped atomic.Uint64
}

// stream holds one run's event history and live subscribers.
type stream struct {
	mu       sync.Mutex
	history  []models.Event
	subs     map[int]chan models.Event
	nextSub  int
	terminal bool
}

// New creates a Bus with the default per-subscriber buffer.
func New() *Bus {
	return NewWithBuffer(DefaultSubscriberBuffer)
}

// NewWithBuffer creates a Bus with the given per-subscriber buffer size.
func NewWithBuffer(n int) *Bus {
	if n < 1 {
		n = 1
	}
	return &Bus{
		streams: make(map[string]*stream),
		buffer:  n,
	}
}

// Open creates the stream for a run. Opening an already-open run is a no-op
// so that restarts do not race with subscribers.
func (b *Bus) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[runID]; ok {
		return
	}
	b.streams[runID] = &stream{subs: make(map[int]chan models.Event)}
}

// Publish appends the event to the run's history and fans it out to live
// subscribers. It assigns the event's sequence number and returns it.
// Publish never blocks: a subscriber that cannot keep up is dropped.
func (b *Bus) Publish(runID string, ev models.Event) (uint64, error) {
	b.mu.RLock()
	s, ok := b.streams[runID]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("publish %s: %w", runID, ErrUnknownStream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return 0, fmt.Errorf("publish %s after terminal event", runID)
	}

	ev.Seq = uint64(len(s.history)) + 1
	s.history = append(s.history, ev)

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full: drop it rather than stall the run.
			delete(s.subs, id)
			close(ch)
			count := b.dropped.Add(1)
			if count%10 == 1 {
				log.Printf("[bus] WARNING: dropped slow subscriber on run %s (total dropped: %d)", runID, count)
			}
		}
	}

	if ev.Terminal() {
		s.terminal = true
		for id, ch := range s.subs {
			delete(s.subs, id)
			close(ch)
		}
	}

	return ev.Seq, nil
}

// Subscribe returns a channel delivering the run's events in publish order,
// starting at fromSeq (1-based; 0 means from the beginning), followed by
// live events. The channel is closed after the terminal event, or when the
// returned cancel function is called. Cancel is idempotent and must be
// called to release the subscription.
func (b *Bus) Subscribe(runID string, fromSeq uint64) (<-chan models.Event, func(), error) {
	b.mu.RLock()
	s, ok := b.streams[runID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("subscribe %s: %w", runID, ErrUnknownStream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	replay := s.replayLocked(fromSeq)
	ch := make(chan models.Event, len(replay)+b.buffer)
	for _, ev := range replay {
		ch <- ev
	}

	if s.terminal {
		// History is complete; no live phase follows.
		close(ch)
		return ch, func() {}, nil
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel, nil
}

// replayLocked returns the slice of history starting at fromSeq.
// Caller holds s.mu.
func (s *stream) replayLocked(fromSeq uint64) []models.Event {
	if fromSeq <= 1 {
		return s.history
	}
	if fromSeq > uint64(len(s.history)) {
		return nil
	}
	return s.history[fromSeq-1:]
}

// Retire tears down a run's stream, closing any remaining subscribers and
// releasing the retained history. Called by the run manager after the
// terminal event plus a grace period for late readers.
func (b *Bus) Retire(runID string) {
	b.mu.Lock()
	s, ok := b.streams[runID]
	delete(b.streams, runID)
	b.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.history = nil
}

// DroppedCount returns the total number of subscribers dropped for lagging.
func (b *Bus) DroppedCount() uint64 {
	return b.dropped.Load()
}
