// Package frameloop drives the simulation clock once per frame and
// serializes every mutation of it onto the frame goroutine.
package frameloop

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/simclock"
)

// DefaultFrameInterval is roughly one display refresh at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// ErrStopped is returned by Do once the loop is no longer running.
var ErrStopped = errors.New("frame loop stopped")

type command struct {
	fn   func(*simclock.Clock)
	done chan struct{}
}

// Loop owns a Clock. The clock is only touched from the goroutine running
// Run; other goroutines read published snapshots or submit commands.
type Loop struct {
	clock    *simclock.Clock
	interval time.Duration
	logger   *slog.Logger

	commands chan command
	stopped  chan struct{}
	snapshot atomic.Pointer[simclock.Snapshot]
	running  atomic.Bool
}

// New creates a loop around clock. An interval of zero uses DefaultFrameInterval.
func New(clock *simclock.Clock, interval time.Duration, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	l := &Loop{
		clock:    clock,
		interval: interval,
		logger:   logger.With("component", "frameloop"),
		commands: make(chan command),
		stopped:  make(chan struct{}),
	}
	l.publish()
	return l
}

// Run ticks the clock every frame and executes submitted commands between
// frames until ctx is cancelled. It must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		close(l.stopped)
	}()

	// Workers may have registered after the clock was built.
	l.clock.Synchronize()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info("frame loop started", "interval", l.interval.String())
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("frame loop stopped")
			return nil
		case cmd := <-l.commands:
			cmd.fn(l.clock)
			l.publish()
			close(cmd.done)
		case <-ticker.C:
			l.frame()
		}
	}
}

func (l *Loop) frame() {
	l.clock.Advance()
	l.clock.SetSelectedDate(time.Time{})
	metrics.IncClockFrames()
	l.publish()
}

func (l *Loop) publish() {
	s := l.clock.Snapshot()
	l.snapshot.Store(&s)
}

// Do runs fn against the clock on the frame goroutine and waits for it to
// finish. The snapshot is republished before Do returns.
func (l *Loop) Do(ctx context.Context, fn func(*simclock.Clock)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case l.commands <- cmd:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the clock state published after the last frame or command.
func (l *Loop) Snapshot() simclock.Snapshot {
	return *l.snapshot.Load()
}

// Now returns the current simulation time.
func (l *Loop) Now() time.Time {
	return l.Snapshot().SimulationTime
}

// OffsetTime returns the current simulation time shifted by offset.
func (l *Loop) OffsetTime(offset time.Duration) time.Time {
	return l.Snapshot().OffsetTime(offset)
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}
