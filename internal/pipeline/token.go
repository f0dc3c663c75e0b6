package pipeline

import "sync"

// StopToken is the cooperative cancellation signal passed into a run's
// execution loop. The controller observes it at task-boundary checkpoints;
// it never interrupts a task already in progress.
type StopToken struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopToken creates an unset token.
func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Stop sets the token. Safe to call repeatedly from any goroutine.
func (t *StopToken) Stop() {
	t.once.Do(func() { close(t.ch) })
}

// Stopped reports whether Stop has been called.
func (t *StopToken) Stopped() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token is set.
func (t *StopToken) Done() <-chan struct{} {
	return t.ch
}
