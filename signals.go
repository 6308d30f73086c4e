package supervisor

import (
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"syscall"
)

// capturedSignals are signals the router installs a handler for. Building
// this as a map rather than a list makes duplicate entries structurally
// impossible, resolving the spec's noted ambiguity about SIGCONT
// appearing twice in the source signal list.
var capturedSignals = map[syscall.Signal]struct{}{
	syscall.SIGTERM: {},
	syscall.SIGINT:  {},
	syscall.SIGHUP:  {},
	syscall.SIGUSR1: {},
	syscall.SIGUSR2: {},
	syscall.SIGCONT: {},
}

// SignalRouter translates asynchronous OS signals into Supervisor state
// changes and EventSignal dispatches. SIGKILL and SIGSTOP are
// intentionally absent from capturedSignals: the OS never delivers them
// to a handler.
type SignalRouter struct {
	sup *Supervisor
	ch  chan os.Signal
	stop chan struct{}
}

// newSignalRouter constructs a router bound to sup but does not start
// capturing signals; call Start to install the OS handler.
func newSignalRouter(sup *Supervisor) *SignalRouter {
	return &SignalRouter{
		sup:  sup,
		ch:   make(chan os.Signal, 16),
		stop: make(chan struct{}),
	}
}

// Start installs the OS signal handler and begins servicing captured
// signals on a dedicated goroutine. The goroutine only sets flags,
// enqueues a restart, or dispatches EventSignal — it never blocks on
// application code, satisfying the re-entrancy-safety requirement.
func (r *SignalRouter) Start() {
	sigs := make([]os.Signal, 0, len(capturedSignals))
	for s := range capturedSignals {
		sigs = append(sigs, s)
	}
	signal.Notify(r.ch, sigs...)

	go func() {
		for {
			select {
			case sig := <-r.ch:
				r.handle(sig)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop uninstalls the OS signal handler and stops the servicing goroutine.
func (r *SignalRouter) Stop() {
	signal.Stop(r.ch)
	close(r.stop)
}

func (r *SignalRouter) handle(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return
	}

	r.sup.events.Dispatch(EventSignal, int(s))

	switch s {
	case syscall.SIGTERM, syscall.SIGINT:
		r.sup.requestShutdown()
	case syscall.SIGHUP:
		r.sup.requestRestart(restartReasonSIGHUP)
	case syscall.SIGUSR1:
		r.sup.dumpRuntime()
	default:
		// Forwarded for EventSignal only; no default action.
	}
}

// dumpRuntime emits a single INFO-level log line describing the
// supervisor's current configuration and load, per the SIGUSR1 contract.
func (sup *Supervisor) dumpRuntime() {
	pluginAliases := sup.plugins.aliases()
	sort.Strings(pluginAliases)

	workerNames := sup.workers.names()
	sort.Strings(workerNames)

	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	sup.logger.Info("runtime dump",
		slog.Duration("loop_interval", sup.loopInterval),
		slog.Duration("auto_restart_interval", sup.autoRestartInterval),
		slog.Int("pid", sup.pid),
		slog.Duration("uptime", sup.runtime()),
		slog.Uint64("rss_bytes", residentSetSize()),
		slog.String("plugins", strings.Join(pluginAliases, ",")),
		slog.String("workers", strings.Join(workerNames, ",")),
		slog.String("user", username),
	)
}

// residentSetSize reads VmRSS from /proc/self/status on Linux; it returns
// 0 on any other platform or on read failure, since the spec does not
// require portable memory accounting.
func residentSetSize() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		var kb uint64
		for _, c := range fields[1] {
			if c < '0' || c > '9' {
				break
			}
			kb = kb*10 + uint64(c-'0')
		}
		return kb * 1024
	}
	return 0
}
