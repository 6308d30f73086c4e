package supervisor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeWorkerStatus(t *testing.T) {
	tests := []struct {
		name string
		st   WorkerStatus
	}{
		{
			name: "idle, no calls yet",
			st: WorkerStatus{
				State: WorkerStateIdle,
				PID:   4242,
				Since: time.Unix(1700000000, 500000000),
			},
		},
		{
			name: "busy with a prior call",
			st: WorkerStatus{
				State:    WorkerStateBusy,
				PID:      99,
				Since:    time.Unix(1690000000, 0),
				LastCall: time.Unix(1690000100, 0),
			},
		},
		{
			name: "exited",
			st: WorkerStatus{
				State: WorkerStateExited,
				PID:   1,
				Since: time.Unix(0, 0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeWorkerStatus(tt.st)
			if len(encoded) != workerStatusSize {
				t.Fatalf("encoded length = %d, want %d", len(encoded), workerStatusSize)
			}

			got, err := decodeWorkerStatus(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.State != tt.st.State {
				t.Errorf("State = %v, want %v", got.State, tt.st.State)
			}
			if got.PID != tt.st.PID {
				t.Errorf("PID = %d, want %d", got.PID, tt.st.PID)
			}
			if got.Since.Unix() != tt.st.Since.Unix() {
				t.Errorf("Since = %v, want %v", got.Since, tt.st.Since)
			}
			if tt.st.LastCall.IsZero() != got.LastCall.IsZero() {
				t.Errorf("LastCall.IsZero() = %v, want %v", got.LastCall.IsZero(), tt.st.LastCall.IsZero())
			}
			if !tt.st.LastCall.IsZero() && got.LastCall.Unix() != tt.st.LastCall.Unix() {
				t.Errorf("LastCall = %v, want %v", got.LastCall, tt.st.LastCall)
			}
		})
	}
}

func TestDecodeWorkerStatusWrongSize(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: []byte{}},
		{name: "too short", data: make([]byte, 10)},
		{name: "too long", data: make([]byte, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeWorkerStatus(tt.data); err == nil {
				t.Fatal("expected error for wrong-size status data")
			}
		})
	}
}

func TestWriteReadWorkerStatusFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailer.status")
	want := WorkerStatus{State: WorkerStateBusy, PID: 555, Since: time.Unix(1700000000, 0), LastCall: time.Unix(1700000050, 0)}

	writeWorkerStatus(path, want)

	got, err := readWorkerStatus(path)
	require.NoError(t, err)
	require.Equal(t, want.State, got.State)
	require.Equal(t, want.PID, got.PID)
	require.Equal(t, want.Since.Unix(), got.Since.Unix())
	require.Equal(t, want.LastCall.Unix(), got.LastCall.Unix())
}

func TestWorkerStateString(t *testing.T) {
	tests := []struct {
		state WorkerState
		want  string
	}{
		{WorkerStateUnknown, "unknown"},
		{WorkerStateStarting, "starting"},
		{WorkerStateIdle, "idle"},
		{WorkerStateBusy, "busy"},
		{WorkerStateExited, "exited"},
		{WorkerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("WorkerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
