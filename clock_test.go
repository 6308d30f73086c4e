package supervisor

import (
	"testing"
	"time"
)

func TestClockStopAndSleepWithoutStartIsFatal(t *testing.T) {
	c := NewClock(10*time.Millisecond, nil)
	if err := c.StopAndSleep(); err != ErrNotStarted {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestClockSleepsRemainderOfInterval(t *testing.T) {
	c := NewClock(30*time.Millisecond, nil)
	c.Start()
	start := time.Now()
	if err := c.StopAndSleep(); err != nil {
		t.Fatalf("StopAndSleep: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 20*time.Millisecond {
		t.Errorf("elapsed = %v, want at least ~30ms of sleep", elapsed)
	}
}

func TestClockOverrunStillYieldsFloor(t *testing.T) {
	c := NewClock(5*time.Millisecond, nil)
	c.Start()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := c.StopAndSleep(); err != nil {
		t.Fatalf("StopAndSleep: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < overrunSleep {
		t.Errorf("overrun sleep = %v, want at least %v", elapsed, overrunSleep)
	}
}
