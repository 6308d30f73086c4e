//go:build linux || darwin

// Package procwait provides the non-blocking child-reap primitive the run
// loop uses for forked one-shot children, adapted from the non-blocking I/O
// constants the teacher library kept per-platform for its control-pipe
// handling.
package procwait

import "syscall"

// Reap performs a single non-blocking wait4 on pid. It reports true once
// the child has exited and been reaped; false means the child is still
// running. ECHILD (already reaped, or never our child) is treated as
// "done", not an error, since the caller only cares whether it can stop
// tracking pid.
func Reap(pid int) (bool, error) {
	var status syscall.WaitStatus
	wpid, err := syscall.Wait4(pid, &status, syscall.WNOHANG, nil)
	if err != nil {
		if err == syscall.ECHILD {
			return true, nil
		}
		return false, err
	}
	if wpid == 0 {
		return false, nil
	}
	return true, nil
}
