package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
)

// LockPlugin is a Plugin that additionally guarantees at most one live
// supervisor per identity. Acquire runs during plugin Setup; the
// Supervisor tears the lock plugin down before executing a restart so the
// replacement process can acquire it in turn.
type LockPlugin interface {
	Plugin
	Acquire() error
	IsHeldByOther() bool
}

// FileLockPlugin is the lock plugin shipped with this package: a
// pid-stamped lock file written atomically via renameio, the same
// check-then-rename idiom the teacher library uses for its own status
// and control files (client_fuzz_test.go, factory_validation_test.go).
// A free-running fsnotify watch on the lock directory lets
// IsHeldByOther answer from an in-memory flag, without reading the lock
// file, once a removal or rename of the lock file has been observed.
type FileLockPlugin struct {
	// Dir is the directory the lock file is created in.
	Dir string
	// Identity names this daemon; the lock file is <Dir>/<Identity>.lock.
	Identity string

	mu       sync.Mutex
	path     string
	heldByUs bool

	freeFlag atomic.Bool
	watcher  *fsnotify.Watcher
	watchStop chan struct{}
}

// NewFileLockPlugin constructs a lock plugin rooted at dir for identity.
func NewFileLockPlugin(dir, identity string) *FileLockPlugin {
	return &FileLockPlugin{
		Dir:      dir,
		Identity: identity,
		path:     filepath.Join(dir, identity+".lock"),
	}
}

// CheckEnvironment verifies the lock directory exists and is writable.
func (l *FileLockPlugin) CheckEnvironment() []string {
	var errs []string
	if l.Dir == "" {
		errs = append(errs, "lock directory not set")
		return errs
	}
	if info, err := os.Stat(l.Dir); err != nil {
		errs = append(errs, fmt.Sprintf("lock directory %q: %v", l.Dir, err))
	} else if !info.IsDir() {
		errs = append(errs, fmt.Sprintf("lock directory %q is not a directory", l.Dir))
	}
	return errs
}

// Setup acquires the lock and starts the fsnotify watch used by
// IsHeldByOther's fast path.
func (l *FileLockPlugin) Setup() error {
	if err := l.Acquire(); err != nil {
		return err
	}
	return l.startWatch()
}

// Acquire atomically claims the lock file for this process, failing if it
// already exists and names another live process. A lock file naming this
// process's own pid is treated as already ours and rewritten.
func (l *FileLockPlugin) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, err := os.ReadFile(l.path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(existing))); perr == nil && pid != os.Getpid() {
			if processAlive(pid) {
				return &OpError{Op: OpLock, Identity: l.Identity, Err: ErrLockHeld}
			}
		}
	}

	content := strconv.Itoa(os.Getpid())
	if err := renameio.WriteFile(l.path, []byte(content), 0o644); err != nil {
		return &OpError{Op: OpLock, Identity: l.Identity, Err: err}
	}
	l.heldByUs = true
	l.freeFlag.Store(false)
	return nil
}

// IsHeldByOther reports whether another live process holds the lock. When
// the fsnotify watch is running, a prior removal event short-circuits
// this to false without touching the filesystem.
func (l *FileLockPlugin) IsHeldByOther() bool {
	if l.freeFlag.Load() {
		return false
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	if pid == os.Getpid() {
		return false
	}
	return processAlive(pid)
}

// Teardown releases the lock if still owned by this process's pid.
func (l *FileLockPlugin) Teardown() error {
	l.stopWatch()

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.heldByUs {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return &OpError{Op: OpLock, Identity: l.Identity, Err: err}
	}
	l.heldByUs = false
	return nil
}

func (l *FileLockPlugin) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Watching is a latency optimization, not a correctness
		// requirement: IsHeldByOther still works via stat.
		return nil
	}
	if err := watcher.Add(l.Dir); err != nil {
		_ = watcher.Close()
		return nil
	}

	l.watcher = watcher
	l.watchStop = make(chan struct{})
	go func() {
		base := filepath.Base(l.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == base && (event.Op&(fsnotify.Remove|fsnotify.Rename) != 0) {
					l.freeFlag.Store(true)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-l.watchStop:
				return
			}
		}
	}()
	return nil
}

func (l *FileLockPlugin) stopWatch() {
	if l.watcher == nil {
		return
	}
	close(l.watchStop)
	_ = l.watcher.Close()
	l.watcher = nil
}

// processAlive reports whether pid names a live process on this host.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes existence without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
