//go:build linux || darwin

package supervisor

import (
	"os"

	"golang.org/x/sys/unix"
)

// execImage replaces the current process image with filename+args via
// unix.Exec, after redirecting stdout/stderr to /dev/null so the new
// image does not inherit whatever the old one had open. On success this
// call never returns: the calling process ceases to exist.
func execImage(filename string, args []string) error {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return &OpError{Op: OpRestart, Identity: filename, Err: err}
	}
	defer func() { _ = devnull.Close() }()

	if err := unix.Dup2(int(devnull.Fd()), 1); err != nil {
		return &OpError{Op: OpRestart, Identity: filename, Err: err}
	}
	if err := unix.Dup2(int(devnull.Fd()), 2); err != nil {
		return &OpError{Op: OpRestart, Identity: filename, Err: err}
	}

	argv := append([]string{filename}, args...)
	if err := unix.Exec(filename, argv, os.Environ()); err != nil {
		return &OpError{Op: OpRestart, Identity: filename, Err: err}
	}
	return nil
}
