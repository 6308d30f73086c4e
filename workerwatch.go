package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WorkerWatch observes changes to a worker's status file, debounced, and
// delivers decoded WorkerStatus values on Changes.
type WorkerWatch struct {
	Changes <-chan WorkerStatus
	closeFn func()
}

// Close stops the underlying fsnotify watch; Changes is then closed.
func (w *WorkerWatch) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// Watch starts observing name's status file for changes, grounded on the
// teacher's debounced fsnotify status-file watch, retargeted here at a
// worker's own status file instead of an externally supervised service's.
func (m *WorkerManager) Watch(name string) (*WorkerWatch, error) {
	w := m.Get(name)
	if w == nil {
		return nil, &OpError{Op: OpWorker, Identity: name, Err: fmt.Errorf("no such worker")}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &OpError{Op: OpWorker, Identity: name, Err: err}
	}
	dir := filepath.Dir(w.statusPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, &OpError{Op: OpWorker, Identity: name, Err: err}
	}

	base := filepath.Base(w.statusPath)
	changes := make(chan WorkerStatus, 4)
	stop := make(chan struct{})

	go func() {
		defer close(changes)
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(10*time.Millisecond, func() {
					st, err := readWorkerStatus(w.statusPath)
					if err != nil {
						return
					}
					select {
					case changes <- st:
					case <-stop:
					}
				})
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	return &WorkerWatch{
		Changes: changes,
		closeFn: func() {
			close(stop)
			_ = watcher.Close()
		},
	}, nil
}

// Wait blocks until name's status enters one of states, or ctx is done.
func (m *WorkerManager) Wait(ctx context.Context, name string, states []WorkerState) error {
	w := m.Get(name)
	if w == nil {
		return &OpError{Op: OpWorker, Identity: name, Err: fmt.Errorf("no such worker")}
	}

	if st, err := w.Status(); err == nil && stateMatches(st.State, states) {
		return nil
	}

	watch, err := m.Watch(name)
	if err != nil {
		return err
	}
	defer watch.Close()

	for {
		select {
		case st, ok := <-watch.Changes:
			if !ok {
				return &OpError{Op: OpWorker, Identity: name, Err: fmt.Errorf("watch closed")}
			}
			if stateMatches(st.State, states) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func stateMatches(state WorkerState, states []WorkerState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
