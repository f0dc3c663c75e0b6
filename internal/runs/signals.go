package runs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// stopSignalPrefix is the filename prefix for stop-signal files.
const stopSignalPrefix = "stop-"

// SignalWatcher cancels runs in response to files dropped in a signals
// directory: creating signals/stop-<runID> requests a stop for that run.
// This gives operators and sidecar tooling a transport-free cancel path.
type SignalWatcher struct {
	dir     string
	manager *Manager

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewSignalWatcher creates the signals directory and begins watching it.
// If the fsnotify watcher cannot be created, it falls back to polling.
func NewSignalWatcher(dir string, manager *Manager) (*SignalWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{
		dir:     dir,
		manager: manager,
		done:    make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
		} else {
			sw.watcher = watcher
		}
	}

	go sw.loop()
	return sw, nil
}

// loop consumes watcher events, with a polling sweep as fallback for
// filesystems where fsnotify is unreliable.
func (sw *SignalWatcher) loop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if sw.watcher != nil {
		events = sw.watcher.Events
		errs = sw.watcher.Errors
	}

	for {
		select {
		case <-sw.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				sw.consume(ev.Name)
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-ticker.C:
			sw.sweep()
		}
	}
}

// sweep processes any signal files already present in the directory.
func (sw *SignalWatcher) sweep() {
	entries, err := os.ReadDir(sw.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			sw.consume(filepath.Join(sw.dir, e.Name()))
		}
	}
}

// consume handles a single signal file: a stop-<runID> file requests a stop
// and is removed afterwards. Unknown runs still remove the file so stale
// signals do not accumulate.
func (sw *SignalWatcher) consume(path string) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, stopSignalPrefix) {
		return
	}
	runID := strings.TrimPrefix(name, stopSignalPrefix)
	if runID == "" {
		return
	}
	_ = sw.manager.RequestStop(runID)
	_ = os.Remove(path)
}

// Close stops the watcher. Safe to call more than once.
func (sw *SignalWatcher) Close() error {
	sw.once.Do(func() {
		close(sw.done)
		if sw.watcher != nil {
			sw.watcher.Close()
		}
	})
	return nil
}
