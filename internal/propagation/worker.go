package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

// WorkerPool propagates a catalog to one simulation time on a bounded
// number of goroutines.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a pool running at most workers propagations at once.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch propagates every entry to targetTime. props holds prebuilt
// propagators by NORAD ID and may be nil. Positions come back in catalog
// order; failed satellites are logged and left out. Cancelling ctx stops
// scheduling further entries.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, entries []tle.TLEEntry, targetTime time.Time, props map[int]*SGP4Propagator) (positions []SatellitePosition, succeeded, failed int) {
	if len(entries) == 0 {
		return nil, 0, 0
	}

	// Earth rotation is the same for every satellite at targetTime.
	gmst := transform.GMST(targetTime)

	results := make([]SatellitePosition, len(entries))
	errs := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(wp.workers)
	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i], errs[i] = propagateOne(entry, props[entry.NORADID], targetTime, gmst)
			return nil
		})
	}
	_ = g.Wait()

	positions = make([]SatellitePosition, 0, len(entries))
	for i, pos := range results {
		switch {
		case errs[i] != nil:
			failed++
			wp.logger.Warn("propagation failed",
				"norad_id", entries[i].NORADID,
				"error", errs[i],
			)
		case pos.NORADID != 0:
			succeeded++
			positions = append(positions, pos)
		}
	}
	return positions, succeeded, failed
}

// propagateOne runs SGP4 for one satellite and rotates the result into ECEF.
// A nil prop is built from the entry.
func propagateOne(entry tle.TLEEntry, prop *SGP4Propagator, at time.Time, gmst float64) (SatellitePosition, error) {
	if prop == nil {
		var err error
		prop, err = NewSGP4Propagator(entry.Line1, entry.Line2, entry.NORADID)
		if err != nil {
			return SatellitePosition{}, err
		}
	}

	teme, err := prop.PropagateAt(at)
	if err != nil {
		return SatellitePosition{}, err
	}
	ecef := transform.TEMEToECEFWithGMST(teme, gmst)
	if !transform.ValidateECEF(ecef) {
		return SatellitePosition{}, fmt.Errorf("norad %d: implausible ECEF position", entry.NORADID)
	}

	return SatellitePosition{
		NORADID:      entry.NORADID,
		PositionECEF: [3]float64{ecef.X, ecef.Y, ecef.Z},
		VelocityECEF: [3]float64{ecef.VX, ecef.VY, ecef.VZ},
	}, nil
}
