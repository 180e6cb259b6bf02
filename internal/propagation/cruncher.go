package propagation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/tle"
)

// KeyframeStore holds keyframes keyed by simulation time.
type KeyframeStore interface {
	Step() time.Duration
	Contains(t time.Time) bool
	Put(kf *Keyframe)
	EvictOutside(simNow time.Time) int
	Reset(reason string)
}

// CruncherConfig configures the position cruncher.
type CruncherConfig struct {
	Interval  time.Duration // How often to propagate (default: 1s)
	Lookahead int           // Keyframes to keep ahead of simulation time (default: 12)
}

// Cruncher is the satellite position worker. It derives simulation time
// from the last mapping it received and the wall clock, and keeps the
// keyframe store filled around that time in the direction of playback.
type Cruncher struct {
	prop   *Propagator
	store  *tle.Store
	frames KeyframeStore
	source simclock.Source
	config CruncherConfig
	logger *slog.Logger

	inbox     *mailbox
	mapping   atomic.Pointer[simclock.Mapping]
	latest    atomic.Pointer[Keyframe]
	fetchedAt time.Time
}

// NewCruncher creates a cruncher starting from the initial mapping.
func NewCruncher(prop *Propagator, store *tle.Store, frames KeyframeStore, source simclock.Source, initial simclock.Mapping, config CruncherConfig, logger *slog.Logger) *Cruncher {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Lookahead <= 0 {
		config.Lookahead = 12
	}
	c := &Cruncher{
		prop:   prop,
		store:  store,
		frames: frames,
		source: source,
		config: config,
		logger: logger.With("component", "cruncher"),
		inbox:  newMailbox(),
	}
	c.mapping.Store(&initial)
	return c
}

// Name identifies the cruncher in the broadcast registry.
func (c *Cruncher) Name() string { return "cruncher" }

// Ready reports whether Run is accepting synchronization messages.
func (c *Cruncher) Ready() bool { return c.inbox.ready.Load() }

// Post hands a synchronization message to the cruncher without blocking.
func (c *Cruncher) Post(msg simclock.SyncMessage) bool { return c.inbox.post(msg) }

// Mapping returns the mapping the cruncher currently derives time from.
func (c *Cruncher) Mapping() simclock.Mapping { return *c.mapping.Load() }

// SimulationTime returns the cruncher's own view of simulation time.
func (c *Cruncher) SimulationTime() time.Time {
	return c.Mapping().At(c.source.Now())
}

// Latest returns the most recently propagated keyframe, or nil.
func (c *Cruncher) Latest() *Keyframe { return c.latest.Load() }

// Run processes synchronization messages and propagates on every interval
// until ctx is cancelled.
func (c *Cruncher) Run(ctx context.Context) {
	c.inbox.ready.Store(true)
	defer c.inbox.ready.Store(false)

	c.logger.Info("cruncher started",
		"interval", c.config.Interval.String(),
		"lookahead", c.config.Lookahead,
	)
	c.crunch(ctx)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cruncher stopped")
			return
		case m := <-c.inbox.ch:
			c.apply(m)
			c.crunch(ctx)
		case <-ticker.C:
			c.crunch(ctx)
		}
	}
}

// apply switches to a new mapping. If simulation time moves by more than
// one keyframe step, cached keyframes belong to the wrong timeline and are
// dropped.
func (c *Cruncher) apply(m simclock.Mapping) {
	now := c.source.Now()
	old := c.Mapping()
	jump := m.At(now).Sub(old.At(now))
	c.mapping.Store(&m)

	if jump.Abs() > c.frames.Step() {
		c.frames.Reset("simulation time jump")
	}
	c.logger.Debug("mapping applied",
		"prop_rate", m.PropRate,
		"static_offset_ms", m.StaticOffset.Milliseconds(),
		"jump_ms", jump.Milliseconds(),
	)
}

// crunch fills missing keyframes from the current simulation time towards
// the direction of playback. A frozen clock needs only the current frame.
func (c *Cruncher) crunch(ctx context.Context) {
	ds := c.store.Get()
	if ds == nil {
		return
	}
	if !ds.FetchedAt.Equal(c.fetchedAt) {
		if !c.fetchedAt.IsZero() {
			c.frames.Reset("catalog changed")
		}
		c.fetchedAt = ds.FetchedAt
	}

	m := c.Mapping()
	sim := m.At(c.source.Now())
	step := c.frames.Step()
	span := Span{
		From:    sim.UTC().Truncate(step),
		Count:   c.config.Lookahead,
		Step:    step,
		Reverse: m.PropRate < 0,
	}
	if m.Frozen() {
		span.Count = 1
	}

	kfs, err := c.prop.GenerateKeyframes(ctx, span, c.frames.Contains)
	for _, kf := range kfs {
		c.frames.Put(kf)
		if kf.Timestamp.Equal(span.From) {
			c.latest.Store(kf)
		}
	}
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("keyframe propagation failed", "error", err)
	}

	c.frames.EvictOutside(sim)
}
