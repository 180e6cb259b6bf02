package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/tle"
)

// ErrNoDataset is returned when no catalog has been loaded yet.
var ErrNoDataset = errors.New("no TLE dataset loaded")

// compiled is the catalog with its SGP4 state initialized once.
type compiled struct {
	dataset *tle.TLEDataset
	props   map[int]*SGP4Propagator
}

// Propagator turns the current catalog into keyframes at requested
// simulation times. It has no clock of its own; callers pick the times.
type Propagator struct {
	store  *tle.Store
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger

	compiled  atomic.Pointer[compiled]
	compileMu sync.Mutex
}

// NewPropagator creates a propagator over the catalog held by store.
func NewPropagator(store *tle.Store, config PropConfig, logger *slog.Logger) *Propagator {
	return &Propagator{
		store:  store,
		pool:   NewWorkerPool(config.Workers, logger),
		config: config,
		logger: logger.With("component", "propagator"),
	}
}

// compile returns the SGP4 state for ds, rebuilding it when the store
// has swapped in a different dataset.
func (p *Propagator) compile(ds *tle.TLEDataset) map[int]*SGP4Propagator {
	if c := p.compiled.Load(); c != nil && c.dataset == ds {
		return c.props
	}
	p.compileMu.Lock()
	defer p.compileMu.Unlock()
	if c := p.compiled.Load(); c != nil && c.dataset == ds {
		return c.props
	}

	props := make(map[int]*SGP4Propagator, len(ds.Satellites))
	failed := 0
	for _, e := range ds.Satellites {
		if _, dup := props[e.NORADID]; dup {
			continue
		}
		sp, err := NewSGP4Propagator(e.Line1, e.Line2, e.NORADID)
		if err != nil {
			p.logger.Warn("sgp4 init failed", "norad_id", e.NORADID, "error", err)
			failed++
			continue
		}
		props[e.NORADID] = sp
	}
	p.compiled.Store(&compiled{dataset: ds, props: props})

	p.logger.Info("catalog compiled",
		"source", ds.Source,
		"satellites", len(props),
		"failed", failed,
	)
	return props
}

// PropagateToTime propagates the current catalog to one simulation time.
func (p *Propagator) PropagateToTime(ctx context.Context, at time.Time) (*Keyframe, error) {
	ds := p.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}
	props := p.compile(ds)

	start := time.Now()
	positions, ok, failed := p.pool.PropagateBatch(ctx, ds.Satellites, at, props)
	elapsed := time.Since(start)
	metrics.RecordPropagation(elapsed, ok, failed)

	p.logger.Debug("keyframe propagated",
		"simulation_time", at.UTC().Format(time.RFC3339),
		"ok", ok,
		"failed", failed,
		"duration_ms", elapsed.Milliseconds(),
	)
	return &Keyframe{Timestamp: at, Satellites: positions}, nil
}

// GenerateKeyframes propagates the frames of span in playback order,
// skipping timestamps for which have reports true. On error the frames
// generated so far are returned with it.
func (p *Propagator) GenerateKeyframes(ctx context.Context, span Span, have func(time.Time) bool) ([]*Keyframe, error) {
	if p.store.Get() == nil {
		return nil, ErrNoDataset
	}
	if span.Step <= 0 {
		span.Step = p.config.Step
	}

	var keyframes []*Keyframe
	for i := 0; i < span.Count; i++ {
		if err := ctx.Err(); err != nil {
			return keyframes, err
		}
		target := span.At(i)
		if have != nil && have(target) {
			continue
		}
		kf, err := p.PropagateToTime(ctx, target)
		if err != nil {
			return keyframes, fmt.Errorf("keyframe at %s: %w", target.Format(time.RFC3339), err)
		}
		keyframes = append(keyframes, kf)
	}
	return keyframes, nil
}
