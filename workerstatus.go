package supervisor

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
)

// Worker status file layout, modeled byte-for-byte on the teacher
// library's runit/daemontools status decoding (status_format_constants.go,
// status_decode.go): fixed-width, big-endian timestamp, little-endian
// pid, trailing state byte. Ours is 24 bytes:
//
//	[0:8)   start time, seconds since Unix epoch, big-endian uint64
//	[8:12)  start time, nanosecond fraction, big-endian uint32
//	[12:16) pid, little-endian uint32
//	16      WorkerState byte
//	17      reserved
//	[18:24) last-call time, seconds since Unix epoch, big-endian uint48
const (
	workerStatusSize = 24

	workerStatusSecStart   = 0
	workerStatusSecEnd     = 8
	workerStatusNanoStart  = 8
	workerStatusNanoEnd    = 12
	workerStatusPIDStart   = 12
	workerStatusPIDEnd     = 16
	workerStatusStateByte  = 16
	workerStatusLastCallStart = 18
	workerStatusLastCallEnd   = 24
)

// WorkerState is the current lifecycle state of a worker's dispatch loop,
// as recorded in its status file.
type WorkerState byte

// Worker states.
const (
	WorkerStateUnknown WorkerState = iota
	WorkerStateStarting
	WorkerStateIdle
	WorkerStateBusy
	WorkerStateExited
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStateStarting:
		return "starting"
	case WorkerStateIdle:
		return "idle"
	case WorkerStateBusy:
		return "busy"
	case WorkerStateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// WorkerStatus is the decoded content of a worker's status file.
type WorkerStatus struct {
	State     WorkerState
	PID       int
	Since     time.Time
	LastCall  time.Time
}

// encodeWorkerStatus packs st into the fixed 24-byte layout.
func encodeWorkerStatus(st WorkerStatus) []byte {
	buf := make([]byte, workerStatusSize)

	binary.BigEndian.PutUint64(buf[workerStatusSecStart:workerStatusSecEnd], uint64(st.Since.Unix()))
	binary.BigEndian.PutUint32(buf[workerStatusNanoStart:workerStatusNanoEnd], uint32(st.Since.Nanosecond()))
	binary.LittleEndian.PutUint32(buf[workerStatusPIDStart:workerStatusPIDEnd], uint32(st.PID))
	buf[workerStatusStateByte] = byte(st.State)

	var lastCall uint64
	if !st.LastCall.IsZero() {
		lastCall = uint64(st.LastCall.Unix())
	}
	lastCallBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lastCallBuf, lastCall)
	copy(buf[workerStatusLastCallStart:workerStatusLastCallEnd], lastCallBuf[2:8])

	return buf
}

// decodeWorkerStatus unpacks a 24-byte status record.
func decodeWorkerStatus(data []byte) (WorkerStatus, error) {
	if len(data) != workerStatusSize {
		return WorkerStatus{}, fmt.Errorf("%w: got %d bytes, want %d", ErrDecode, len(data), workerStatusSize)
	}

	sec := binary.BigEndian.Uint64(data[workerStatusSecStart:workerStatusSecEnd])
	nsec := binary.BigEndian.Uint32(data[workerStatusNanoStart:workerStatusNanoEnd])
	pid := binary.LittleEndian.Uint32(data[workerStatusPIDStart:workerStatusPIDEnd])
	state := WorkerState(data[workerStatusStateByte])

	lastCallBuf := make([]byte, 8)
	copy(lastCallBuf[2:8], data[workerStatusLastCallStart:workerStatusLastCallEnd])
	lastCallSec := binary.BigEndian.Uint64(lastCallBuf)

	st := WorkerStatus{
		State: state,
		PID:   int(pid),
		Since: time.Unix(int64(sec), int64(nsec)),
	}
	if lastCallSec > 0 {
		st.LastCall = time.Unix(int64(lastCallSec), 0)
	}
	return st, nil
}

// writeWorkerStatus atomically writes st to path, using the same
// check-then-rename idiom the teacher uses for its own control and
// status files. A write failure is not fatal to the dispatch loop: the
// next status transition will retry.
func writeWorkerStatus(path string, st WorkerStatus) {
	_ = renameio.WriteFile(path, encodeWorkerStatus(st), 0o644)
}

// readWorkerStatus reads and decodes the status file at path.
func readWorkerStatus(path string) (WorkerStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerStatus{}, &OpError{Op: OpWorker, Identity: path, Err: err}
	}
	return decodeWorkerStatus(data)
}
