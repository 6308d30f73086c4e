package supervisor

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// ForkFunc is a callback body run in a forked child process. payload is
// whatever bytes the caller handed to Fork.
type ForkFunc func(ctx context.Context, payload []byte) error

// Environment variables used to pass the self-re-exec marker across the
// fork boundary. The Go runtime cannot safely run arbitrary Go code in a
// classic fork(2) child (the goroutine scheduler and GC have live state
// that a bare fork does not duplicate correctly), so this package's
// "fork" is a self-re-exec: spawn the Supervisor's configured filename
// again, with the current arguments and a marker telling
// the new process which registered callback to run instead of its normal
// main().
const (
	envForkCallback = "_SUPERVISOR_FORK_CB"
	envForkPayload  = "_SUPERVISOR_FORK_ARG"
	envForkSetup    = "_SUPERVISOR_FORK_SETUP"
)

var forkRegistry = struct {
	mu sync.Mutex
	m  map[string]ForkFunc
}{m: make(map[string]ForkFunc)}

var setupRegistry struct {
	mu sync.Mutex
	fn func() error
}

// RegisterFork binds name to fn so it can be invoked in a re-exec'd child
// by Supervisor.Fork(name, ...). Registration must happen before
// MaybeRunFork is called, i.e. at package init or at the top of main,
// since the child process runs the same binary from scratch.
func RegisterFork(name string, fn ForkFunc) {
	forkRegistry.mu.Lock()
	defer forkRegistry.mu.Unlock()
	forkRegistry.m[name] = fn
}

// RegisterSetup binds the application's setup hook, re-run in a forked
// child when Fork is called with runSetup true (for example, to
// reconnect a database handle invalidated across the fork).
func RegisterSetup(fn func() error) {
	setupRegistry.mu.Lock()
	defer setupRegistry.mu.Unlock()
	setupRegistry.fn = fn
}

// MaybeRunFork must be the first statement in main() for any binary that
// calls Fork. If the process was spawned as a fork child, it runs the
// registered callback and exits, never returning. Otherwise it returns
// immediately and normal startup proceeds.
func MaybeRunFork() {
	name := os.Getenv(envForkCallback)
	if name == "" {
		return
	}

	forkRegistry.mu.Lock()
	fn, ok := forkRegistry.m[name]
	forkRegistry.mu.Unlock()

	if !ok {
		os.Exit(1)
	}

	if os.Getenv(envForkSetup) == "1" {
		setupRegistry.mu.Lock()
		setup := setupRegistry.fn
		setupRegistry.mu.Unlock()
		if setup != nil {
			if err := setup(); err != nil {
				os.Exit(1)
			}
		}
	}

	var payload []byte
	if encoded := os.Getenv(envForkPayload); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			payload = decoded
		}
	}

	if err := fn(context.Background(), payload); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// Fork spawns a registered callback in a fresh process. It dispatches
// EventFork, then attempts to start the child; on failure it logs an
// ERROR and returns false. On success it returns true immediately — the
// parent never blocks on the child, which is reaped opportunistically by
// the run loop's non-blocking wait (see reapChildren).
func (sup *Supervisor) Fork(name string, payload []byte, runSetup bool) bool {
	proc, err := sup.startFork(name, payload, runSetup)
	if err != nil {
		sup.logger.Error("fork failed", slog.String("callback", name), slog.Any("error", err))
		return false
	}
	sup.trackChild(proc)
	return true
}

// startFork dispatches EventFork and starts a re-exec'd child running the
// named callback, without tracking it for reaping — callers that need
// their own wait discipline (the Worker Manager's restart-on-exit loop)
// call this directly instead of Fork.
func (sup *Supervisor) startFork(name string, payload []byte, runSetup bool) (*os.Process, error) {
	sup.events.Dispatch(EventFork)

	cmd := exec.Command(sup.filename, os.Args[1:]...)
	cmd.Env = append(os.Environ(),
		envForkCallback+"="+name,
		envForkPayload+"="+base64.StdEncoding.EncodeToString(payload),
	)
	if runSetup {
		cmd.Env = append(cmd.Env, envForkSetup+"=1")
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}
