package supervisor

import (
	"log/slog"
	"time"
)

// overrunSleep is the minimum sleep issued on an overrun or a zero loop
// interval, to yield the CPU without pinning a core.
const overrunSleep = 2 * time.Millisecond

// warnBandFraction is the fraction of loopInterval past which an elapsed
// iteration is logged as a warning rather than silently slept through.
const warnBandFraction = 0.9

// Clock paces the run loop to a target interval, reporting overruns and
// warning when an iteration consumes most of its budget. It has no
// third-party equivalent in the reference corpus: exact-interval pacing
// on top of a monotonic clock is hand-rolled in every process-supervision
// example examined, never imported from a library.
type Clock struct {
	interval time.Duration
	logger   *slog.Logger
	started  time.Time
	hasStart bool
}

// NewClock constructs a Clock paced to interval. An interval of zero means
// "no sleep" per spec; stop_and_sleep then always issues the 2ms CPU-yield
// floor.
func NewClock(interval time.Duration, logger *slog.Logger) *Clock {
	return &Clock{interval: interval, logger: logger}
}

// Start records the monotonic reference instant for the current iteration.
func (c *Clock) Start() {
	c.started = time.Now()
	c.hasStart = true
}

// StopAndSleep computes elapsed time since the last Start and either
// sleeps the remainder of the interval, logs a warning when within the
// top 10% of the budget, or logs an overrun and yields the CPU floor.
// Calling StopAndSleep without a prior Start is fatal, matching the
// spec's "calling stop_and_sleep() without a prior start() is fatal".
func (c *Clock) StopAndSleep() error {
	if !c.hasStart {
		return ErrNotStarted
	}
	elapsed := time.Since(c.started)
	c.hasStart = false

	switch {
	case elapsed > c.interval:
		if c.interval > 0 && c.logger != nil {
			c.logger.Error("run loop iteration overran its interval",
				slog.Duration("elapsed", elapsed),
				slog.Duration("interval", c.interval))
		}
		time.Sleep(overrunSleep)
		return nil
	case c.interval > 0 && elapsed > time.Duration(float64(c.interval)*warnBandFraction):
		if c.logger != nil {
			c.logger.Warn("run loop iteration is approaching its interval budget",
				slog.Duration("elapsed", elapsed),
				slog.Duration("interval", c.interval))
		}
		time.Sleep(c.interval - elapsed)
		return nil
	default:
		time.Sleep(c.interval - elapsed)
		return nil
	}
}
