package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nallikari/supervisor/internal/procwait"
	"vawter.tech/stopper"
)

var constructed atomic.Bool

// Supervisor is the top-level state machine: it owns the run loop, the
// signal bridge, the plugin lifecycle, and the restart protocol. At most
// one Supervisor may exist per process; construct it once with New and
// thread the resulting handle into anything that needs it.
type Supervisor struct {
	filename  string
	pid       int
	startTime time.Time

	loopInterval        time.Duration
	autoRestartInterval time.Duration
	daemonMode          bool
	verbose             atomic.Bool
	logFilePath         string
	pidFile             string
	className           string
	rundir              string

	isParent bool
	shutdown atomic.Bool

	restartMu      sync.Mutex
	restartPending bool
	restartReason  string

	restartArgsOverride []string

	execute      func(ctx context.Context) error
	setupFn      func() error
	loadPluginFn func(*PluginHost) error

	logger  *slog.Logger
	events  *EventBus
	plugins *PluginHost
	workers *WorkerManager
	clock   *Clock
	signals *SignalRouter
	lock    LockPlugin

	childMu  sync.Mutex
	children []*os.Process
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithLoopInterval sets the run loop's target iteration period. Zero
// means no sleep (Clock still yields the 2ms CPU floor).
func WithLoopInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.loopInterval = d }
}

// WithAutoRestartInterval sets the auto-restart period. It is only
// honored when daemon mode is active; values below MinRestartSeconds
// fail environment check.
func WithAutoRestartInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.autoRestartInterval = d }
}

// WithDaemonMode marks the supervisor as detached up front, useful for
// tests and for applications that manage their own detaching.
func WithDaemonMode(daemon bool) Option {
	return func(s *Supervisor) { s.daemonMode = daemon }
}

// WithVerbose mirrors log lines to stdout. Ignored once daemon mode is
// active.
func WithVerbose(verbose bool) Option {
	return func(s *Supervisor) { s.verbose.Store(verbose) }
}

// WithPIDFile records path as the pid file to write and, on normal
// teardown, remove if still owned.
func WithPIDFile(path string) Option {
	return func(s *Supervisor) { s.pidFile = path }
}

// WithClassName sets the name used for the generated init script's path
// and pid-file path, the install instructions, the default run
// directory, and the identity reported in environment-check errors. It
// does not set a lock plugin's own identity.
func WithClassName(name string) Option {
	return func(s *Supervisor) { s.className = name }
}

// WithRunDir sets the directory worker control sockets and status files
// are created under. Defaults to os.TempDir()/<class-name>.
func WithRunDir(dir string) Option {
	return func(s *Supervisor) { s.rundir = dir }
}

// WithLockPlugin loads lp under the alias "lock" and records it as the
// supervisor's lock plugin, so Init refuses to complete while
// lp.IsHeldByOther() reports true.
func WithLockPlugin(lp LockPlugin) Option {
	return func(s *Supervisor) { s.lock = lp }
}

// WithLogFile routes log output through a file-backed logger instead of
// the stdout default. The logger itself is built after every Option has
// run and reads the verbose flag on every write, so the order of
// WithVerbose and WithLogFile does not matter, and a later -v applied by
// ApplyFlags takes effect too.
func WithLogFile(path string) Option {
	return func(s *Supervisor) { s.logFilePath = path }
}

// WithRestartArgs overrides the argument list used when exec'ing the
// replacement process on restart, instead of the default "-d [-p file]".
func WithRestartArgs(args []string) Option {
	return func(s *Supervisor) { s.restartArgsOverride = args }
}

// New constructs the process's single Supervisor. filename must be the
// absolute path of the executable image, used both for self-restart and
// for forked children. A second call to New in the same process returns
// ErrAlreadyConstructed.
func New(filename string, opts ...Option) (*Supervisor, error) {
	if !constructed.CompareAndSwap(false, true) {
		return nil, &OpError{Op: OpInit, Identity: filename, Err: ErrAlreadyConstructed}
	}
	if filename == "" {
		constructed.Store(false)
		return nil, &OpError{Op: OpInit, Err: ErrNoFilename}
	}

	sup := &Supervisor{
		filename:            filename,
		pid:                 os.Getpid(),
		startTime:           time.Now(),
		isParent:            true,
		autoRestartInterval: 24 * time.Hour,
		className:           "supervisor",
	}
	for _, opt := range opts {
		opt(sup)
	}
	sup.rebuildLogger()

	if sup.rundir == "" {
		sup.rundir = os.TempDir() + string(os.PathSeparator) + sup.className
	}

	sup.events = NewEventBus(sup.logger)
	sup.plugins = newPluginHost()
	sup.workers = newWorkerManager(sup, sup.rundir)
	sup.clock = NewClock(sup.loopInterval, sup.logger)
	sup.signals = newSignalRouter(sup)

	if sup.lock != nil {
		if err := sup.plugins.Load("lock", sup.lock); err != nil {
			constructed.Store(false)
			return nil, err
		}
	}

	return sup, nil
}

// SetExecute registers the application's periodic work body, invoked once
// per run-loop iteration.
func (sup *Supervisor) SetExecute(fn func(ctx context.Context) error) {
	sup.execute = fn
}

// SetSetup registers the application's one-time setup hook, run once
// after EventInit and again in any forked child for which run_setup was
// requested.
func (sup *Supervisor) SetSetup(fn func() error) {
	sup.setupFn = fn
	RegisterSetup(fn)
}

// SetLoadPlugins registers the application's plugin-loading hook, run
// once before environment check.
func (sup *Supervisor) SetLoadPlugins(fn func(*PluginHost) error) {
	sup.loadPluginFn = fn
}

// Events returns the supervisor's event bus.
func (sup *Supervisor) Events() *EventBus { return sup.events }

// Plugins returns the supervisor's plugin host.
func (sup *Supervisor) Plugins() *PluginHost { return sup.plugins }

// Workers returns the supervisor's worker manager.
func (sup *Supervisor) Workers() *WorkerManager { return sup.workers }

// Logger returns the supervisor's logger.
func (sup *Supervisor) Logger() *slog.Logger { return sup.logger }

// rebuildLogger (re)builds sup.logger from the currently configured log
// file path and pid. It does not need to run again after a later change
// to sup.verbose: the file-backed writer reads sup.verbose live on every
// write, so ApplyFlags's -v handling only needs to update that flag, not
// call this again. Call it once, after every Option has applied.
func (sup *Supervisor) rebuildLogger() {
	if sup.logFilePath != "" {
		sup.logger = newFileLogger(sup.logFilePath, sup.pid, &sup.verbose)
		return
	}
	sup.logger = newStdoutLogger(sup.pid)
}

// PID returns the current process id, refreshed in the detached child
// after -d.
func (sup *Supervisor) PID() int { return sup.pid }

// Runtime returns the wall-clock duration since the current process
// image started.
func (sup *Supervisor) Runtime() time.Duration { return time.Since(sup.startTime) }

func (sup *Supervisor) runtime() time.Duration { return sup.Runtime() }

// requestShutdown flips the shutdown latch; the run loop exits after its
// current iteration completes.
func (sup *Supervisor) requestShutdown() {
	sup.shutdown.Store(true)
}

func (sup *Supervisor) shutdownRequested() bool {
	return sup.shutdown.Load()
}

// requestRestart marks a restart pending for reason; the run loop honors
// it at the next iteration boundary rather than from signal-handler
// context.
func (sup *Supervisor) requestRestart(reason string) {
	sup.restartMu.Lock()
	defer sup.restartMu.Unlock()
	sup.restartPending = true
	sup.restartReason = reason
}

func (sup *Supervisor) takeRestartRequest() (bool, string) {
	sup.restartMu.Lock()
	defer sup.restartMu.Unlock()
	pending := sup.restartPending
	reason := sup.restartReason
	sup.restartPending = false
	return pending, reason
}

// trackChild records proc for opportunistic, non-blocking reaping on
// subsequent run-loop iterations.
func (sup *Supervisor) trackChild(proc *os.Process) {
	sup.childMu.Lock()
	defer sup.childMu.Unlock()
	sup.children = append(sup.children, proc)
}

// reapChildren performs a single non-blocking wait pass over every
// tracked child, dropping any that have exited. It never blocks.
func (sup *Supervisor) reapChildren() {
	sup.childMu.Lock()
	children := sup.children
	sup.childMu.Unlock()

	if len(children) == 0 {
		return
	}

	remaining := children[:0:0]
	for _, proc := range children {
		exited, err := procwait.Reap(proc.Pid)
		if err != nil {
			sup.logger.Error("child reap failed", slog.Int("pid", proc.Pid), slog.Any("error", err))
		}
		if !exited {
			remaining = append(remaining, proc)
		}
	}

	sup.childMu.Lock()
	sup.children = remaining
	sup.childMu.Unlock()
}

// checkEnvironment aggregates the configuration checks spec.md §4.10
// requires plus every loaded plugin's own check_environment().
func (sup *Supervisor) checkEnvironment() error {
	merr := &MultiError{}

	if sup.filename == "" {
		merr.Add(fmt.Errorf("filename not set"))
	}
	if sup.loopInterval < 0 {
		merr.Add(fmt.Errorf("loop interval must be non-negative"))
	}
	if sup.autoRestartInterval < MinRestartSeconds*time.Second {
		merr.Add(fmt.Errorf("auto-restart interval must be >= %d seconds", MinRestartSeconds))
	}
	if !forkAvailable() {
		merr.Add(ErrForkUnavailable)
	}
	if sup.lock != nil && sup.lock.IsHeldByOther() {
		merr.Add(&OpError{Op: OpLock, Identity: sup.className, Err: ErrLockHeld})
	}

	if pluginErrs := sup.plugins.CheckEnvironment(); pluginErrs != nil {
		merr.Errors = append(merr.Errors, pluginErrs.Errors...)
	}

	if err := merr.Err(); err != nil {
		return &OpError{Op: OpEnvCheck, Identity: sup.className, Err: err}
	}
	return nil
}

// Run drives the full lifecycle: LoadPlugins, EnvCheck, Init, the run
// loop, and Shutdown or Restart on exit. It returns nil on a normal
// SIGTERM/SIGINT shutdown, and a non-nil error when a fatal condition
// could not be recovered by a restart.
func (sup *Supervisor) Run(ctx context.Context) error {
	if sup.loadPluginFn != nil {
		if err := sup.loadPluginFn(sup.plugins); err != nil {
			return sup.fatal(err, false)
		}
	}

	if err := sup.checkEnvironment(); err != nil {
		sup.logger.Error("environment check failed", slog.Any("error", err))
		return err
	}

	if err := sup.plugins.Setup(); err != nil {
		return sup.fatal(err, false)
	}

	if err := writePIDFile(sup.pidFile, sup.pid); err != nil {
		sup.logger.Error("pid file write failed", slog.Any("error", err))
	}

	sup.events.Dispatch(EventInit)

	if sup.setupFn != nil {
		if err := sup.setupFn(); err != nil {
			return sup.fatal(err, false)
		}
	}

	sup.signals.Start()
	defer sup.signals.Stop()

	sctx := stopper.WithContext(ctx)
	sup.workers.Start(sctx)
	defer func() {
		sctx.Stop(5 * time.Second)
		_ = sctx.Wait()
	}()

	for {
		if sup.shutdownRequested() || !sup.isParent {
			break
		}

		sup.clock.Start()

		if sup.checkAutoRestart() {
			sup.requestRestart(restartReasonAutoRestart)
		}

		if pending, reason := sup.takeRestartRequest(); pending {
			return sup.doRestart(sctx, reason)
		}

		sup.events.Dispatch(EventRun)

		if err := sup.runExecute(ctx); err != nil {
			return sup.fatal(err, true)
		}

		_ = sup.clock.StopAndSleep()
		sup.reapChildren()
	}

	return sup.shutdownNormally()
}

// checkAutoRestart reports whether the auto-restart trigger condition has
// been met: daemon mode, an interval at or above the floor, and enough
// uptime elapsed.
func (sup *Supervisor) checkAutoRestart() bool {
	if !sup.daemonMode {
		return false
	}
	if sup.autoRestartInterval < MinRestartSeconds*time.Second {
		return false
	}
	return sup.runtime() >= sup.autoRestartInterval
}

// runExecute calls the application's execute() body, converting a panic
// into an error so it participates in the same fatal-error path as a
// returned error.
func (sup *Supervisor) runExecute(ctx context.Context) (err error) {
	if sup.execute == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("execute panicked: %v", r)
		}
	}()
	return sup.execute(ctx)
}

// fatal implements the fatal-error path: log at ERROR, log a shutdown
// notice, and either attempt a restart (when uptime allows and the
// caller permits it) or return the error for exit status 1.
func (sup *Supervisor) fatal(cause error, allowRestart bool) error {
	sup.logger.Error("fatal error", slog.Any("error", cause))
	sup.logger.Error("shutting down")

	if allowRestart && sup.isParent && sup.runtime() >= MinRestartSeconds*time.Second {
		time.Sleep(restartGraceSleep)
		if err := sup.doRestart(nil, restartReasonFatal); err != nil {
			sup.logger.Error("restart after fatal error failed", slog.Any("error", err))
			return err
		}
		return nil
	}
	return cause
}

// shutdownNormally runs the Shutdown state: dispatch SHUTDOWN, tear down
// plugins in reverse order, and remove the pid file if still owned.
func (sup *Supervisor) shutdownNormally() error {
	sup.events.Dispatch(EventShutdown)

	sup.plugins.Teardown(func(alias string, err error) {
		sup.logger.Error("plugin teardown failed", slog.String("plugin", alias), slog.Any("error", err))
	})

	if err := removePIDFileIfOwned(sup.pidFile, sup.pid); err != nil {
		sup.logger.Error("pid file removal failed", slog.Any("error", err))
	}
	return nil
}

// forkAvailable reports whether this host supports the self-re-exec fork
// mechanism. It always returns true; it does not check that the
// configured filename exists or is executable.
func forkAvailable() bool {
	// os/exec re-exec is available on every platform Go itself targets;
	// the spec's "forking available on this host" check exists for
	// systems lacking fork(2) at all, which does not apply to the
	// self-re-exec strategy this package uses.
	return true
}
