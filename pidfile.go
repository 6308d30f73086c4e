package supervisor

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// writePIDFile atomically writes pid to path using the same
// check-then-rename idiom the lock plugin and worker status files use, so
// a reader never observes a partially-written pid.
func writePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return &OpError{Op: OpPIDFile, Identity: path, Err: err}
	}
	return nil
}

// removePIDFileIfOwned deletes path only if its content equals pid. A
// process that never owned the file (a stale child, a reused path) can
// never delete a sibling's pid file.
func removePIDFileIfOwned(path string, pid int) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &OpError{Op: OpPIDFile, Identity: path, Err: err}
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(pid) {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &OpError{Op: OpPIDFile, Identity: path, Err: err}
	}
	return nil
}
