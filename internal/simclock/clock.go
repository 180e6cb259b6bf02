// Package simclock is the time authority of the tracker. It maps wall-clock
// time to simulation time through a propagation rate and offsets, keeps the
// simulated instant continuous across every rate or offset change, and
// broadcasts the mapping to workers that derive simulation time on their own.
//
// A Clock is not safe for concurrent use. It is owned by a single driving
// loop that calls Tick once per frame; other goroutines reach it through
// that loop.
package simclock

import (
	"log/slog"
	"math"
	"time"

	"github.com/star/timekeeper/internal/metrics"
)

const (
	// DefaultDisplayInterval is the minimum wall time between display refreshes.
	DefaultDisplayInterval = 500 * time.Millisecond

	// DefaultJumpThreshold is the largest backwards step (relative to the
	// direction of travel) that still counts as continuous playback.
	DefaultJumpThreshold = 300 * time.Millisecond

	displayLayout = "01/02/06 15:04:05 MST"
)

// Broadcaster delivers synchronization messages to background workers.
type Broadcaster interface {
	Notify(msg SyncMessage)
}

// DisplaySink presents the formatted simulation time.
type DisplaySink interface {
	Display(text string, dayOfYear int)
}

// Toaster shows a short user-facing notification.
type Toaster interface {
	Toast(n Notification)
}

// StatePersister records the clock state after every rate or offset change,
// for example as a shareable link.
type StatePersister interface {
	Persist(s Snapshot)
}

// Snapshot is an immutable copy of the clock state.
type Snapshot struct {
	SimulationTime time.Time
	RealTime       time.Time
	SelectedDate   time.Time
	Mapping        Mapping
	LastPropRate   float64
	TimeText       string
}

// OffsetTime returns the simulation time shifted by offset.
func (s Snapshot) OffsetTime(offset time.Duration) time.Time {
	return s.SimulationTime.Add(offset)
}

// Option configures a Clock.
type Option func(*Clock)

// WithBroadcaster sets the worker broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Clock) { c.broadcaster = b }
}

// WithDisplay sets the display sink.
func WithDisplay(d DisplaySink) Option {
	return func(c *Clock) { c.display = d }
}

// WithToaster sets the notification sink for rate changes.
func WithToaster(t Toaster) Option {
	return func(c *Clock) { c.toaster = t }
}

// WithPersister sets the state persister.
func WithPersister(p StatePersister) Option {
	return func(c *Clock) { c.persister = p }
}

// WithDisplayInterval overrides DefaultDisplayInterval.
func WithDisplayInterval(d time.Duration) Option {
	return func(c *Clock) { c.displayInterval = d }
}

// WithJumpThreshold overrides DefaultJumpThreshold.
func WithJumpThreshold(d time.Duration) Option {
	return func(c *Clock) { c.jumpThreshold = d }
}

// Clock owns the mapping from wall-clock time to simulation time.
type Clock struct {
	source      Source
	broadcaster Broadcaster
	display     DisplaySink
	toaster     Toaster
	persister   StatePersister
	logger      *slog.Logger

	displayInterval time.Duration
	jumpThreshold   time.Duration

	mapping               Mapping
	lastPropRate          float64
	realTime              time.Time
	simulationTime        time.Time
	lastSimulationTime    time.Time
	selectedDate          time.Time
	lastDisplayUpdateTime time.Time
	timeText              string
}

// New creates a clock reading wall time from source and initializes it to
// real-time playback.
func New(source Source, logger *slog.Logger, opts ...Option) *Clock {
	c := &Clock{
		source:          source,
		logger:          logger.With("component", "simclock"),
		displayInterval: DefaultDisplayInterval,
		jumpThreshold:   DefaultJumpThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Init()
	return c
}

// Init resets the clock to real-time playback anchored at the current wall
// time. Calling it again discards all prior state.
func (c *Clock) Init() {
	now := truncateMillis(c.source.Now())

	c.mapping = RealTime(now)
	c.lastPropRate = 1
	c.realTime = now
	c.simulationTime = now
	c.lastSimulationTime = now
	c.lastDisplayUpdateTime = time.Time{}
	c.timeText = ""

	metrics.SetClockRate(c.mapping.PropRate)
	metrics.SetClockStaticOffset(c.mapping.StaticOffset)

	c.SetSelectedDate(c.simulationTime)
}

// Tick recomputes simulation time for the given wall-clock time. A zero
// time leaves the current simulation time untouched.
func (c *Clock) Tick(now time.Time) time.Time {
	if now.IsZero() {
		return c.simulationTime
	}
	c.lastSimulationTime = c.simulationTime
	c.realTime = now
	c.simulationTime = c.mapping.At(now)
	return c.simulationTime
}

// Advance ticks the clock with the current time from its source.
func (c *Clock) Advance() time.Time {
	return c.Tick(c.source.Now())
}

// SetRate changes the propagation rate without moving the simulated instant.
// Setting the current rate again is a no-op and sends nothing.
func (c *Clock) SetRate(rate float64) {
	if rate == c.mapping.PropRate {
		return
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		c.logger.Warn("ignoring invalid propagation rate", "rate", rate)
		return
	}

	now := c.rebase()
	c.mapping.PropRate = rate
	c.recompute(now)

	metrics.SetClockRate(rate)
	metrics.IncClockRateChanges()
	c.logger.Info("propagation rate changed",
		"rate", rate,
		"simulation_time", c.simulationTime.Format(time.RFC3339Nano),
	)

	c.Synchronize()
	if c.toaster != nil {
		c.toaster.Toast(RateNotification(rate))
	}
	c.persist()
}

// SetStaticOffset re-anchors the mapping at the current wall time and
// replaces the static offset, so simulation time becomes now + offset.
func (c *Clock) SetStaticOffset(offset time.Duration) {
	now := c.rebase()
	c.mapping.StaticOffset = offset.Truncate(time.Millisecond)
	c.recompute(now)

	metrics.SetClockStaticOffset(c.mapping.StaticOffset)
	metrics.IncClockOffsetJumps()
	c.logger.Info("static offset changed",
		"static_offset_ms", c.mapping.StaticOffset.Milliseconds(),
		"simulation_time", c.simulationTime.Format(time.RFC3339Nano),
	)

	c.Synchronize()
	c.persist()
}

// JumpTo moves simulation time to date at the current wall time, keeping
// the propagation rate, and selects that date. Dates outside the
// simulation range are clamped to it.
func (c *Clock) JumpTo(date time.Time) {
	if !InSimulationRange(date) {
		c.logger.Warn("jump target outside simulation range, clamping",
			"date", date.Format(time.RFC3339),
			"min", MinSimulationTime.Format(time.RFC3339),
			"max", MaxSimulationTime.Format(time.RFC3339),
		)
		date = ClampSimulationTime(date)
	}
	now := truncateMillis(c.source.Now())
	c.SetStaticOffset(date.Sub(now))
	c.SetSelectedDate(date)
}

// Toggle pauses a running clock, remembering its rate, or resumes a paused
// clock at the remembered rate.
func (c *Clock) Toggle() {
	if c.mapping.PropRate != 0 {
		c.lastPropRate = c.mapping.PropRate
		c.SetRate(0)
		return
	}
	c.SetRate(c.lastPropRate)
}

// SetSelectedDate records the user's viewing date (zero means the current
// simulation time) and refreshes the display sink, at most once per display
// interval and never while simulation time is jumping.
func (c *Clock) SetSelectedDate(date time.Time) {
	if date.IsZero() {
		date = c.simulationTime
	}
	c.selectedDate = date

	if c.display == nil {
		return
	}
	if !c.lastDisplayUpdateTime.IsZero() && c.realTime.Sub(c.lastDisplayUpdateTime) < c.displayInterval {
		return
	}
	if c.jumping() {
		metrics.IncDisplaySkipped()
		return
	}

	c.timeText = c.simulationTime.UTC().Format(displayLayout)
	c.display.Display(c.timeText, DayOfYear(c.simulationTime))
	c.lastDisplayUpdateTime = c.realTime
	metrics.IncDisplayUpdates()
}

// PropagationOffset returns how far the selected date is from the current
// wall time, or 0 when no date is selected.
func (c *Clock) PropagationOffset() time.Duration {
	if c.selectedDate.IsZero() {
		return 0
	}
	return c.selectedDate.Sub(c.source.Now())
}

// OffsetTime returns the simulation time shifted by offset without
// changing the clock.
func (c *Clock) OffsetTime(offset time.Duration) time.Time {
	return c.simulationTime.Add(offset)
}

// Synchronize broadcasts the current mapping to the workers.
func (c *Clock) Synchronize() {
	if c.broadcaster == nil {
		return
	}
	c.broadcaster.Notify(c.mapping.Message())
}

// SimulationTime returns the simulation time computed by the last tick or change.
func (c *Clock) SimulationTime() time.Time { return c.simulationTime }

// RealTime returns the wall-clock time last observed by the clock.
func (c *Clock) RealTime() time.Time { return c.realTime }

// SelectedDate returns the user's viewing date.
func (c *Clock) SelectedDate() time.Time { return c.selectedDate }

// PropRate returns the current propagation rate.
func (c *Clock) PropRate() float64 { return c.mapping.PropRate }

// LastPropRate returns the rate that Toggle resumes at.
func (c *Clock) LastPropRate() float64 { return c.lastPropRate }

// Mapping returns the current wall-to-simulation mapping.
func (c *Clock) Mapping() Mapping { return c.mapping }

// Frozen reports whether the clock is paused.
func (c *Clock) Frozen() bool { return c.mapping.Frozen() }

// TimeText returns the last formatted display text.
func (c *Clock) TimeText() string { return c.timeText }

// Snapshot returns a copy of the clock state.
func (c *Clock) Snapshot() Snapshot {
	return Snapshot{
		SimulationTime: c.simulationTime,
		RealTime:       c.realTime,
		SelectedDate:   c.selectedDate,
		Mapping:        c.mapping,
		LastPropRate:   c.lastPropRate,
		TimeText:       c.timeText,
	}
}

// rebase captures the static offset at the current simulated instant and
// then moves the dynamic epoch to now. The order matters: the offset must
// be read from the old mapping.
func (c *Clock) rebase() time.Time {
	now := truncateMillis(c.source.Now())
	current := c.mapping.At(now)
	c.mapping.StaticOffset = current.Sub(now).Truncate(time.Millisecond)
	c.mapping.DynamicOffsetEpoch = now
	return now
}

func (c *Clock) recompute(now time.Time) {
	c.lastSimulationTime = c.simulationTime
	c.realTime = now
	c.simulationTime = c.mapping.At(now)
}

// jumping reports whether the last step moved simulation time against the
// direction of travel by at least the jump threshold.
func (c *Clock) jumping() bool {
	step := c.simulationTime.Sub(c.lastSimulationTime)
	if c.mapping.PropRate < 0 {
		return step >= c.jumpThreshold
	}
	return -step >= c.jumpThreshold
}

func (c *Clock) persist() {
	if c.persister == nil {
		return
	}
	c.persister.Persist(c.Snapshot())
}
