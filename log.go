package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// logHeaderLine is written once, before the first record, to any log file
// this package opens.
const logHeaderLine = "Date PID Message\n"

// fileLogWriter lazily opens path in append mode and writes the fixed
// header line before the first record. A write or open failure
// permanently swaps the destination for stdout and reports the fallback
// exactly once, per the "I/O error on log file" error-handling policy.
//
// mirror, when non-nil, is read on every write rather than captured once
// at construction: -v can be applied well after the logger is built (it
// is parsed from flags after WithLogFile already ran in New), and
// ApplyFlags only ever toggles this flag, never rebuilds the logger.
type fileLogWriter struct {
	path   string
	mirror *atomic.Bool

	mu        sync.Mutex
	file      *os.File
	fellBack  bool
	wroteHead bool
}

func newFileLogWriter(path string, mirror *atomic.Bool) *fileLogWriter {
	return &fileLogWriter{path: path, mirror: mirror}
}

func (w *fileLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fellBack {
		return os.Stdout.Write(p)
	}

	if w.file == nil {
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return w.fallback(err, p)
		}
		w.file = f
	}

	if !w.wroteHead {
		if _, err := w.file.WriteString(logHeaderLine); err != nil {
			return w.fallback(err, p)
		}
		w.wroteHead = true
	}

	n, err := w.file.Write(p)
	if err != nil {
		return w.fallback(err, p)
	}
	if w.mirror != nil && w.mirror.Load() {
		_, _ = os.Stdout.Write(p)
	}
	return n, nil
}

func (w *fileLogWriter) fallback(cause error, p []byte) (int, error) {
	w.fellBack = true
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	fmt.Fprintf(os.Stdout, "supervisor: log file %q unavailable (%v), falling back to stdout\n", w.path, cause)
	return os.Stdout.Write(p)
}

// lineHandler is a slog.Handler that renders records in the fixed
// "[YYYY-MM-DD HH:MM:SS] <pid> LEVEL message attr=val..." shape this
// package's log file uses, rather than slog's default text handler
// format.
type lineHandler struct {
	w     io.Writer
	pid   int
	mu    *sync.Mutex
	attrs []slog.Attr
}

func newLineHandler(w io.Writer, pid int) *lineHandler {
	return &lineHandler{w: w, pid: pid, mu: &sync.Mutex{}}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] %-6d %-5s %s", r.Time.Format("2006-01-02 15:04:05"), h.pid, r.Level.String(), r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &lineHandler{w: h.w, pid: h.pid, mu: h.mu, attrs: merged}
}

// WithGroup is a no-op: this package's log line format has no nested
// namespace for attribute groups.
func (h *lineHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newFileLogger builds a logger that appends to path in the package's
// fixed line format. verbose is read on every write, not just at
// construction, so toggling it later (via -v, or ApplyFlags clearing it
// once -d takes effect) mirrors or stops mirroring lines to stdout
// without rebuilding the logger.
func newFileLogger(path string, pid int, verbose *atomic.Bool) *slog.Logger {
	writer := newFileLogWriter(path, verbose)
	return slog.New(newLineHandler(writer, pid))
}

// newStdoutLogger builds a logger that writes directly to stdout, used
// when no log file path has been configured.
func newStdoutLogger(pid int) *slog.Logger {
	return slog.New(newLineHandler(os.Stdout, pid))
}
