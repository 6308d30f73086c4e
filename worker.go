package supervisor

import (
	"context"
	"encoding/gob"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// WorkerBody is the user-supplied callable a named worker runs, one call
// at a time, in its own forked process.
type WorkerBody func(ctx context.Context, args []byte) ([]byte, error)

var workerBodyRegistry = struct {
	m map[string]WorkerBody
}{m: make(map[string]WorkerBody)}

// workerDispatchForkName is the Fork Primitive callback name used to
// launch every worker's child process; the Worker Manager reuses the
// self-re-exec fork mechanism rather than inventing a second one.
const workerDispatchForkName = "__supervisor_worker_dispatch__"

func init() {
	RegisterFork(workerDispatchForkName, runWorkerDispatch)
}

// RegisterWorkerBody binds name to body so a re-exec'd worker child can
// find it. Call this before MaybeRunFork, alongside RegisterFork.
func RegisterWorkerBody(name string, body WorkerBody) {
	workerBodyRegistry.m[name] = body
}

// workerCall is the wire request sent down a worker's control socket.
type workerCall struct {
	Args []byte
}

// workerReply is the wire response.
type workerReply struct {
	Result []byte
	Err    string
}

// encodeDispatchPayload describes which worker a dispatch-loop child
// should run and where its control socket and status file live. Fields
// are joined with newlines rather than a general-purpose encoding: none
// of the three ever contains one, and the teacher's own wire protocols
// favor fixed, minimal framing over a marshaling library.
func encodeDispatchPayload(workerName, sockPath, statusPath string) []byte {
	return []byte(strings.Join([]string{workerName, sockPath, statusPath}, "\n"))
}

func decodeDispatchPayload(payload []byte) (workerName, sockPath, statusPath string, ok bool) {
	parts := strings.Split(string(payload), "\n")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// runWorkerDispatch is the body every worker child process runs: it
// listens on a Unix-domain control socket, services exactly one call at
// a time, and keeps the worker's status file current.
func runWorkerDispatch(ctx context.Context, payload []byte) error {
	name, sockPath, statusPath, ok := decodeDispatchPayload(payload)
	if !ok {
		return &OpError{Op: OpWorker, Identity: "dispatch", Err: ErrDecode}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	_ = os.Remove(sockPath)
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return &OpError{Op: OpWorker, Identity: name, Err: err}
	}
	defer func() { _ = listener.Close() }()

	since := time.Now()
	writeWorkerStatus(statusPath, WorkerStatus{State: WorkerStateIdle, PID: os.Getpid(), Since: since})

	body := workerBodyRegistry.m[name]

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				writeWorkerStatus(statusPath, WorkerStatus{State: WorkerStateExited, PID: os.Getpid(), Since: since})
				return nil
			default:
				continue
			}
		}

		serveOneCall(conn, body, statusPath, since)
	}
}

func serveOneCall(conn net.Conn, body WorkerBody, statusPath string, since time.Time) {
	defer func() { _ = conn.Close() }()

	writeWorkerStatus(statusPath, WorkerStatus{State: WorkerStateBusy, PID: os.Getpid(), Since: since})

	var call workerCall
	dec := gob.NewDecoder(conn)
	if err := dec.Decode(&call); err != nil {
		writeWorkerStatus(statusPath, WorkerStatus{State: WorkerStateIdle, PID: os.Getpid(), Since: since})
		return
	}

	var reply workerReply
	if body == nil {
		reply.Err = "worker body not registered in this process image"
	} else {
		result, err := body(context.Background(), call.Args)
		reply.Result = result
		if err != nil {
			reply.Err = err.Error()
		}
	}

	enc := gob.NewEncoder(conn)
	_ = enc.Encode(reply)

	writeWorkerStatus(statusPath, WorkerStatus{
		State: WorkerStateIdle,
		PID:   os.Getpid(),
		Since: since,
		LastCall: time.Now(),
	})
}
