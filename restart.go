package supervisor

import (
	"os"
	"time"

	"vawter.tech/stopper"
)

// Restart trigger reasons, recorded for logging and passed as the
// EventRestart argument.
const (
	restartReasonSIGHUP      = "sighup"
	restartReasonAutoRestart = "auto-restart"
	restartReasonFatal       = "fatal-error"
)

// restartGraceSleep is slept before a restart triggered by a fatal error,
// giving a transient external dependency (a database, a socket peer) a
// chance to recover before the replacement process dials back in.
const restartGraceSleep = 2 * time.Second

// doRestart runs the Restart Controller protocol: dispatch RESTART, tear
// down the lock plugin so the replacement can acquire it, stop any
// in-flight workers, and exec a fresh process image. On success it never
// returns; the process image has been replaced. sctx may be nil when
// called from a path that has not yet started the worker manager.
func (sup *Supervisor) doRestart(sctx *stopper.Context, reason string) error {
	if !sup.isParent {
		return nil
	}

	sup.events.Dispatch(EventRestart, reason)

	if sup.lock != nil {
		if err := sup.lock.Teardown(); err != nil {
			sup.logger.Error("lock teardown before restart failed", "error", err)
		}
	}

	if sctx != nil {
		sctx.Stop(5 * time.Second)
		_ = sctx.Wait()
	}

	if err := execImage(sup.filename, sup.restartArgs()); err != nil {
		sup.logger.Error("restart exec failed", "error", err)
		return err
	}
	return nil
}

// restartArgs rebuilds the command line used to exec the replacement
// process: the same daemon/pid-file flags as this instance, unless an
// explicit override was configured with WithRestartArgs.
func (sup *Supervisor) restartArgs() []string {
	if sup.restartArgsOverride != nil {
		return sup.restartArgsOverride
	}
	args := []string{"-d"}
	if sup.pidFile != "" {
		args = append(args, "-p", sup.pidFile)
	}
	return args
}

// envDaemonChild marks a process as the detached child of a -d
// daemonize re-exec, distinguishing it from the parent that spawned it
// with the same binary and (almost) the same arguments.
const envDaemonChild = "_SUPERVISOR_DAEMON_CHILD"

// daemonize implements the -d flag's detach contract via the same
// self-re-exec idiom as the Fork Primitive, since Go cannot classic-fork
// and keep running: it spawns a child carrying envDaemonChild with the
// -d flag stripped from its argument list (so the child does not
// daemonize again), waits for nothing, and exits. The child, on noticing
// envDaemonChild, refreshes its identity and dispatches NEWPID instead of
// re-daemonizing.
func (sup *Supervisor) daemonize() error {
	if os.Getenv(envDaemonChild) == "1" {
		sup.pid = os.Getpid()
		sup.daemonMode = true
		sup.events.Dispatch(EventNewPID, sup.pid)
		return nil
	}

	proc, err := startDaemonChild(sup.filename, strippedDaemonArgs(os.Args[1:]))
	if err != nil {
		return &OpError{Op: OpFork, Identity: "daemonize", Err: err}
	}
	_ = proc
	os.Exit(0)
	return nil
}

// strippedDaemonArgs returns args with -d/--daemon removed, so the
// detached child does not attempt to daemonize a second time.
func strippedDaemonArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-d" || a == "--daemon" {
			continue
		}
		out = append(out, a)
	}
	return out
}
