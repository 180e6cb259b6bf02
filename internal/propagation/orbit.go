package propagation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

// OrbitConfig configures the orbit path builder.
type OrbitConfig struct {
	NORADIDs []int         // Satellites to trace; empty means the first Limit catalog entries
	Limit    int           // default: 5
	Segments int           // Samples per orbital period (default: 90)
	Interval time.Duration // Rebuild interval (default: 30s)
}

// OrbitPoint is one sample of an orbit path.
type OrbitPoint struct {
	Time       time.Time  `json:"time"`
	TEME       [3]float64 `json:"teme_km"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	AltitudeKm float64    `json:"altitude_km"`
}

// OrbitPath is one orbital period sampled from its start time.
type OrbitPath struct {
	NORADID       int          `json:"norad_id"`
	Name          string       `json:"name"`
	Start         time.Time    `json:"start"`
	PeriodSeconds float64      `json:"period_seconds"`
	Points        []OrbitPoint `json:"points"`
}

type orbitSet struct {
	sim       time.Time
	fetchedAt time.Time
	paths     []OrbitPath
}

// OrbitBuilder is the orbit path worker. Like the cruncher it derives
// simulation time from the last mapping it received.
type OrbitBuilder struct {
	prop   *Propagator
	store  *tle.Store
	source simclock.Source
	config OrbitConfig
	logger *slog.Logger

	inbox   *mailbox
	mapping atomic.Pointer[simclock.Mapping]
	paths   atomic.Pointer[orbitSet]
}

// NewOrbitBuilder creates an orbit builder starting from the initial mapping.
func NewOrbitBuilder(prop *Propagator, store *tle.Store, source simclock.Source, initial simclock.Mapping, config OrbitConfig, logger *slog.Logger) *OrbitBuilder {
	if config.Limit <= 0 {
		config.Limit = 5
	}
	if config.Segments <= 0 {
		config.Segments = 90
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	b := &OrbitBuilder{
		prop:   prop,
		store:  store,
		source: source,
		config: config,
		logger: logger.With("component", "orbits"),
		inbox:  newMailbox(),
	}
	b.mapping.Store(&initial)
	return b
}

// Name identifies the builder in the broadcast registry.
func (b *OrbitBuilder) Name() string { return "orbits" }

// Ready reports whether Run is accepting synchronization messages.
func (b *OrbitBuilder) Ready() bool { return b.inbox.ready.Load() }

// Post hands a synchronization message to the builder without blocking.
func (b *OrbitBuilder) Post(msg simclock.SyncMessage) bool { return b.inbox.post(msg) }

// Mapping returns the mapping the builder currently derives time from.
func (b *OrbitBuilder) Mapping() simclock.Mapping { return *b.mapping.Load() }

// Paths returns the most recently built orbit paths.
func (b *OrbitBuilder) Paths() []OrbitPath {
	set := b.paths.Load()
	if set == nil {
		return nil
	}
	return set.paths
}

// Run rebuilds paths on every synchronization message and interval until
// ctx is cancelled.
func (b *OrbitBuilder) Run(ctx context.Context) {
	b.inbox.ready.Store(true)
	defer b.inbox.ready.Store(false)

	b.logger.Info("orbit builder started", "interval", b.config.Interval.String())
	b.Build(ctx)

	ticker := time.NewTicker(b.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("orbit builder stopped")
			return
		case m := <-b.inbox.ch:
			b.mapping.Store(&m)
			b.Build(ctx)
		case <-ticker.C:
			b.Build(ctx)
		}
	}
}

// Build samples one orbital period of every traced satellite starting at
// the builder's current simulation time.
func (b *OrbitBuilder) Build(ctx context.Context) {
	ds := b.store.Get()
	if ds == nil {
		return
	}

	sim := b.Mapping().At(b.source.Now())
	// A frozen clock keeps producing the same instant.
	if prev := b.paths.Load(); prev != nil && prev.sim.Equal(sim) && prev.fetchedAt.Equal(ds.FetchedAt) {
		return
	}

	props := b.prop.compile(ds)
	var paths []OrbitPath
	for _, entry := range b.targets(ds) {
		if ctx.Err() != nil {
			return
		}
		prop, ok := props[entry.NORADID]
		if !ok {
			continue
		}
		path, err := b.trace(prop, entry, sim)
		if err != nil {
			b.logger.Warn("orbit trace failed", "norad_id", entry.NORADID, "error", err)
			continue
		}
		paths = append(paths, path)
	}

	b.paths.Store(&orbitSet{sim: sim, fetchedAt: ds.FetchedAt, paths: paths})
	b.logger.Debug("orbits built", "paths", len(paths), "simulation_time", sim.Format(time.RFC3339))
}

func (b *OrbitBuilder) targets(ds *tle.TLEDataset) []tle.TLEEntry {
	if len(b.config.NORADIDs) == 0 {
		n := min(b.config.Limit, len(ds.Satellites))
		return ds.Satellites[:n]
	}
	var out []tle.TLEEntry
	for _, id := range b.config.NORADIDs {
		if e, ok := ds.Find(id); ok {
			out = append(out, e)
		}
	}
	return out
}

func (b *OrbitBuilder) trace(prop *SGP4Propagator, entry tle.TLEEntry, start time.Time) (OrbitPath, error) {
	elems, err := tle.ParseElements(entry.Line2)
	if err != nil {
		return OrbitPath{}, err
	}
	period := elems.Period()
	step := period / time.Duration(b.config.Segments)

	path := OrbitPath{
		NORADID:       entry.NORADID,
		Name:          entry.Name,
		Start:         start,
		PeriodSeconds: period.Seconds(),
		Points:        make([]OrbitPoint, 0, b.config.Segments+1),
	}
	for i := 0; i <= b.config.Segments; i++ {
		t := start.Add(time.Duration(i) * step)
		teme, err := prop.PropagateAt(t)
		if err != nil {
			return OrbitPath{}, err
		}
		ecef := transform.TEMEToECEF(teme, t)
		geo := transform.ECEFToGeodetic(ecef.X, ecef.Y, ecef.Z)
		path.Points = append(path.Points, OrbitPoint{
			Time:       t,
			TEME:       [3]float64{teme.X, teme.Y, teme.Z},
			Latitude:   geo.LatDeg,
			Longitude:  geo.LonDeg,
			AltitudeKm: geo.AltM / 1000,
		})
	}
	return path, nil
}
