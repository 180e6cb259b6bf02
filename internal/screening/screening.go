// Package screening looks ahead from the current simulation time for
// satellites that pass through a box around a primary satellite.
package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

const (
	defaultStep   = time.Minute
	defaultWindow = 24 * time.Hour
	maxSteps      = 7 * 24 * 60
)

// ErrPrimaryNotFound is returned when the primary satellite is not in the catalog.
var ErrPrimaryNotFound = errors.New("primary satellite not in catalog")

// Offsetter returns the simulation time shifted by an offset.
type Offsetter interface {
	OffsetTime(offset time.Duration) time.Time
}

// Request describes one screening run.
type Request struct {
	NORADID int           `json:"norad_id"`
	U       float64       `json:"u"` // radial half-width, km
	V       float64       `json:"v"` // in-track half-width, km
	W       float64       `json:"w"` // cross-track half-width, km
	Window  time.Duration `json:"-"`
	Step    time.Duration `json:"-"`
}

// Conjunction is the first time a candidate entered the box.
type Conjunction struct {
	NORADID       int       `json:"norad_id"`
	Name          string    `json:"name"`
	Time          time.Time `json:"time"`
	OffsetSeconds float64   `json:"offset_seconds"`
	RadialKm      float64   `json:"radial_km"`
	InTrackKm     float64   `json:"in_track_km"`
	CrossTrackKm  float64   `json:"cross_track_km"`
	RangeKm       float64   `json:"range_km"`
}

// Result is the outcome of a screening run.
type Result struct {
	NORADID      int           `json:"norad_id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Candidates   int           `json:"candidates"`
	Skipped      int           `json:"skipped"`
	Conjunctions []Conjunction `json:"conjunctions"`
}

func (r *Request) normalize() error {
	if r.U <= 0 || r.V <= 0 || r.W <= 0 {
		return fmt.Errorf("box half-widths must be positive, got u=%v v=%v w=%v", r.U, r.V, r.W)
	}
	if r.Step <= 0 {
		r.Step = defaultStep
	}
	if r.Window <= 0 {
		r.Window = defaultWindow
	}
	if r.Window/r.Step > maxSteps {
		return fmt.Errorf("window %v at step %v exceeds %d steps", r.Window, r.Step, maxSteps)
	}
	return nil
}

// Screen steps from the current simulation time through the window and
// reports every candidate whose position relative to the primary falls
// inside the RIC box. Only candidates whose perigee/apogee band overlaps
// the primary's are propagated.
func Screen(ctx context.Context, req Request, entries []tle.TLEEntry, clock Offsetter, logger *slog.Logger) (*Result, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	var primary *tle.TLEEntry
	for i := range entries {
		if entries[i].NORADID == req.NORADID {
			primary = &entries[i]
			break
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: %d", ErrPrimaryNotFound, req.NORADID)
	}

	primaryProp, err := propagation.NewSGP4Propagator(primary.Line1, primary.Line2, primary.NORADID)
	if err != nil {
		return nil, fmt.Errorf("primary: %w", err)
	}
	primaryElems, err := tle.ParseElements(primary.Line2)
	if err != nil {
		return nil, fmt.Errorf("primary elements: %w", err)
	}

	steps := int(req.Window / req.Step)
	times := make([]time.Time, steps)
	primaryStates := make([]*transform.PositionTEME, steps)
	for i := range times {
		times[i] = clock.OffsetTime(time.Duration(i) * req.Step)
		if st, err := primaryProp.PropagateAt(times[i]); err == nil {
			primaryStates[i] = &st
		}
	}

	candidates := overlapping(primary, primaryElems, entries)
	result := &Result{
		NORADID:    req.NORADID,
		Start:      times[0],
		End:        times[len(times)-1],
		Candidates: len(candidates),
	}

	found := make([]*Conjunction, len(candidates))
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for idx, cand := range candidates {
		g.Go(func() error {
			prop, err := propagation.NewSGP4Propagator(cand.Line1, cand.Line2, cand.NORADID)
			if err != nil {
				skipped.Add(1)
				return nil
			}
			for i, t := range times {
				if err := gctx.Err(); err != nil {
					return err
				}
				if primaryStates[i] == nil {
					continue
				}
				st, err := prop.PropagateAt(t)
				if err != nil {
					skipped.Add(1)
					return nil
				}
				ric := transform.ToRIC(*primaryStates[i], st)
				if ric.Within(req.U, req.V, req.W) {
					found[idx] = &Conjunction{
						NORADID:       cand.NORADID,
						Name:          cand.Name,
						Time:          t,
						OffsetSeconds: (time.Duration(i) * req.Step).Seconds(),
						RadialKm:      ric.Radial,
						InTrackKm:     ric.InTrack,
						CrossTrackKm:  ric.CrossTrack,
						RangeKm:       ric.Range(),
					}
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("screening cancelled: %w", err)
	}

	result.Skipped = int(skipped.Load())
	result.Conjunctions = make([]Conjunction, 0)
	for _, c := range found {
		if c != nil {
			result.Conjunctions = append(result.Conjunctions, *c)
		}
	}
	sort.Slice(result.Conjunctions, func(i, j int) bool {
		a, b := result.Conjunctions[i], result.Conjunctions[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.NORADID < b.NORADID
	})

	logger.Info("screening complete",
		"norad_id", req.NORADID,
		"candidates", result.Candidates,
		"conjunctions", len(result.Conjunctions),
		"skipped", result.Skipped,
		"start", result.Start.Format(time.RFC3339),
	)
	return result, nil
}

// overlapping returns the entries, other than primary, whose perigee/apogee
// band overlaps the primary's.
func overlapping(primary *tle.TLEEntry, pe tle.Elements, entries []tle.TLEEntry) []tle.TLEEntry {
	perigee, apogee := pe.PerigeeApogee()
	var out []tle.TLEEntry
	for _, e := range entries {
		if e.NORADID == primary.NORADID {
			continue
		}
		elems, err := tle.ParseElements(e.Line2)
		if err != nil {
			continue
		}
		p2, a2 := elems.PerigeeApogee()
		if p2 > apogee || perigee > a2 {
			continue
		}
		out = append(out, e)
	}
	return out
}
