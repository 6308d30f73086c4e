package supervisor

import (
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// Worker is a persistent named child process managed by the Supervisor.
// It processes one call at a time; invocation is specified here, but the
// underlying IPC is this package's own (a Unix control socket plus a
// binary status file), grounded on the teacher's control-socket/
// status-file idiom for the processes it watches.
type Worker struct {
	Name       string
	sockPath   string
	statusPath string

	mgr *WorkerManager

	mu      sync.Mutex
	proc    *os.Process
	running bool

	// DialTimeout, WriteTimeout, ReadTimeout, BackoffMin, BackoffMax, and
	// MaxAttempts mirror the teacher's ClientRunit retry configuration
	// (client_runit.go) for Invoke's control-socket round trip.
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int

	// Restart selects whether the manager re-forks this worker when its
	// process exits. Defaults to true.
	Restart bool
}

// WorkerOption configures a Worker at registration time.
type WorkerOption func(*Worker)

// WithWorkerTimeout sets DialTimeout, WriteTimeout, and ReadTimeout.
func WithWorkerTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.DialTimeout = d
		w.WriteTimeout = d
		w.ReadTimeout = d
	}
}

// WithWorkerRestart controls whether the worker is re-forked on exit.
func WithWorkerRestart(restart bool) WorkerOption {
	return func(w *Worker) { w.Restart = restart }
}

// WorkerManager owns the name->Worker mapping. Worker processes are not
// reaped by the run loop's non-blocking wait: each worker's supervising
// goroutine reaps its process by blocking in (*os.Process).Wait.
// In-memory call queuing is out of scope: each worker
// serves one call at a time by construction (its dispatch loop accepts
// one connection at a time).
type WorkerManager struct {
	sup     *Supervisor
	rundir  string
	mu      sync.Mutex
	byName  map[string]*Worker
	sctx    *stopper.Context
}

func newWorkerManager(sup *Supervisor, rundir string) *WorkerManager {
	return &WorkerManager{
		sup:    sup,
		rundir: rundir,
		byName: make(map[string]*Worker),
	}
}

// Worker registers a persistent worker named name running body, and
// starts its first forked process. Calling Worker twice with the same
// name is a configuration error — the name->Worker map is the canonical
// registry (resolving the spec's noted worker/workers inconsistency).
func (m *WorkerManager) Worker(name string, body WorkerBody, opts ...WorkerOption) (*Worker, error) {
	m.mu.Lock()
	if _, exists := m.byName[name]; exists {
		m.mu.Unlock()
		return nil, &OpError{Op: OpWorker, Identity: name, Err: ErrDuplicateWorker}
	}

	workerDir := filepath.Join(m.rundir, "workers")
	_ = os.MkdirAll(workerDir, 0o755)

	w := &Worker{
		Name:         name,
		sockPath:     filepath.Join(workerDir, name+".sock"),
		statusPath:   filepath.Join(workerDir, name+".status"),
		mgr:          m,
		DialTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
		ReadTimeout:  time.Second,
		BackoffMin:   10 * time.Millisecond,
		BackoffMax:   time.Second,
		MaxAttempts:  10,
		Restart:      true,
	}
	for _, opt := range opts {
		opt(w)
	}
	m.byName[name] = w
	m.mu.Unlock()

	RegisterWorkerBody(name, body)

	if err := m.spawn(w); err != nil {
		return nil, err
	}
	if m.sctx != nil {
		m.superviseRestarts(w)
	}
	return w, nil
}

// Get returns the worker registered under name, or nil.
func (m *WorkerManager) Get(name string) *Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byName[name]
}

// names returns every registered worker name.
func (m *WorkerManager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byName))
	for name := range m.byName {
		out = append(out, name)
	}
	return out
}

// Start begins the restart-on-exit supervising goroutines for every
// already-registered worker, using sctx's graceful-deadline lifecycle.
// The Supervisor calls this once, after the run loop starts.
func (m *WorkerManager) Start(sctx *stopper.Context) {
	m.mu.Lock()
	m.sctx = sctx
	workers := make([]*Worker, 0, len(m.byName))
	for _, w := range m.byName {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		m.superviseRestarts(w)
	}
}

func (m *WorkerManager) spawn(w *Worker) error {
	payload := encodeDispatchPayload(w.Name, w.sockPath, w.statusPath)
	proc, err := m.sup.startFork(workerDispatchForkName, payload, false)
	if err != nil {
		return &OpError{Op: OpWorker, Identity: w.Name, Err: err}
	}

	w.mu.Lock()
	w.proc = proc
	w.running = true
	w.mu.Unlock()
	return nil
}

// superviseRestarts runs a stopper-scoped goroutine that waits on w's
// current process and re-forks it when it exits, unless the worker
// manager is stopping or the worker was configured not to restart.
func (m *WorkerManager) superviseRestarts(w *Worker) {
	m.sctx.Go(func(sctx *stopper.Context) error {
		for {
			w.mu.Lock()
			proc := w.proc
			w.mu.Unlock()
			if proc == nil {
				return nil
			}

			_, _ = proc.Wait()

			w.mu.Lock()
			w.running = false
			w.mu.Unlock()

			if sctx.IsStopping() || !w.Restart {
				return nil
			}

			if err := m.spawn(w); err != nil {
				m.sup.logger.Error("worker restart failed", "worker", w.Name, "error", err)
				select {
				case <-time.After(time.Second):
				case <-sctx.Stopping():
					return nil
				}
				continue
			}
		}
	})
}

// Invoke calls name with args and returns its result, dialing the
// worker's control socket with the teacher's bounded-backoff retry
// pattern (client_runit.go's send). Workers process one call at a time;
// concurrent Invoke calls to the same worker serialize at the socket.
func (m *WorkerManager) Invoke(ctx context.Context, name string, args []byte) ([]byte, error) {
	w := m.Get(name)
	if w == nil {
		return nil, &OpError{Op: OpWorker, Identity: name, Err: fmt.Errorf("no such worker")}
	}
	return w.Invoke(ctx, args)
}

// Invoke performs one call against this worker.
func (w *Worker) Invoke(ctx context.Context, args []byte) ([]byte, error) {
	var lastErr error
	backoff := w.BackoffMin

	for attempt := 0; attempt < w.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.BackoffMax {
				backoff = w.BackoffMax
			}
		}

		result, err := w.tryInvoke(args)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	return nil, &OpError{Op: OpWorker, Identity: w.Name, Err: lastErr}
}

func (w *Worker) tryInvoke(args []byte) ([]byte, error) {
	conn, err := net.DialTimeout("unix", w.sockPath, w.DialTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if w.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout))
	}
	if err := gob.NewEncoder(conn).Encode(workerCall{Args: args}); err != nil {
		return nil, err
	}

	if w.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}
	var reply workerReply
	if err := gob.NewDecoder(conn).Decode(&reply); err != nil {
		return nil, err
	}
	if reply.Err != "" {
		return reply.Result, fmt.Errorf("%s", reply.Err)
	}
	return reply.Result, nil
}

// Status reads and decodes this worker's current status file.
func (w *Worker) Status() (WorkerStatus, error) {
	return readWorkerStatus(w.statusPath)
}
