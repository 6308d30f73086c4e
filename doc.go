// Package supervisor turns an application-supplied unit of periodic work
// into a well-behaved, singleton, auto-restarting background service.
//
// The core is a fixed-interval run loop with drift-aware sleep, a
// lifecycle state machine (construct -> init -> run -> shutdown/restart),
// an OS signal-to-event bridge, a plugin substrate that enforces
// cross-instance singleton locking, and two forms of process-level
// parallelism: one-shot forked tasks and named persistent forked workers.
//
//	sup, err := supervisor.New("/opt/myapp/bin/myapp",
//	    supervisor.WithLoopInterval(100*time.Millisecond),
//	    supervisor.WithAutoRestartInterval(24*time.Hour),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sup.SetExecute(func(ctx context.Context) error {
//	    return pollQueue(ctx)
//	})
//
//	if err := sup.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Design Philosophy
//
// This package prioritizes:
//
//   - A single thread of control per process; parallelism is achieved by
//     forking additional processes, never by sharing supervisor state
//     across goroutines.
//   - Explicit construction and explicit failure over hidden globals: a
//     second call to New in the same process returns a configuration
//     error rather than silently sharing state.
//   - No listener, plugin teardown, or worker failure can take down the
//     run loop; failures are recovered at the boundary they occur at and
//     escalate only when the spec requires it (init, execute).
//
// The package never shells out to an external supervisor; the forking,
// locking, and restart machinery described here happens entirely within
// the calling process tree.
package supervisor
