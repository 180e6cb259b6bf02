// Package passes predicts when satellites rise above an observer's horizon,
// looking ahead from the current simulation time.
package passes

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Elevation float64   `json:"elevation"` // degrees above observer's horizon (0-90)
}

// PassEvent describes a single satellite pass over an observer location.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// SatellitePasses holds the predicted passes for one satellite.
type SatellitePasses struct {
	NORADID int         `json:"norad_id"`
	Passes  []PassEvent `json:"passes"`
	Error   string      `json:"error,omitempty"`
}

// Offsetter returns the simulation time shifted by an offset.
type Offsetter interface {
	OffsetTime(offset time.Duration) time.Time
}

// Request holds the parameters for a pass prediction request. The search
// starts Lead after the current simulation time.
type Request struct {
	Observer     transform.ObserverPosition
	Entries      []tle.TLEEntry
	Lead         time.Duration
	HorizonHours float64
	MinElevation float64 // degrees
	MaxPasses    int
}

const (
	coarseStep      = 30 * time.Second
	fineStep        = time.Second
	groundTrackStep = 10 // seconds since rise
	minPassDur      = 10 * time.Second
)

// Predict computes passes for every entry of req, searching from the
// simulation time reported by clock. Satellites are processed concurrently,
// at most one per CPU. Per-satellite failures are reported in the result.
func Predict(ctx context.Context, req Request, clock Offsetter) []SatellitePasses {
	start := clock.OffsetTime(req.Lead)
	results := make([]SatellitePasses, len(req.Entries))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, entry := range req.Entries {
		g.Go(func() error {
			results[i].NORADID = entry.NORADID
			if ctx.Err() != nil {
				results[i].Error = "cancelled"
				return nil
			}
			passes, err := predictSatellite(ctx, req, entry, start)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Passes = passes
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func predictSatellite(ctx context.Context, req Request, entry tle.TLEEntry, start time.Time) ([]PassEvent, error) {
	prop, err := propagation.NewSGP4Propagator(entry.Line1, entry.Line2, entry.NORADID)
	if err != nil {
		return nil, fmt.Errorf("sgp4 init: %w", err)
	}
	s := sampler{prop: prop, obs: req.Observer}
	end := start.Add(time.Duration(req.HorizonHours * float64(time.Hour)))

	var passes []PassEvent
	t := start
	for t.Before(end) && len(passes) < req.MaxPasses && ctx.Err() == nil {
		smp, ok := s.at(t)
		if !ok || smp.look.ElevationDeg <= 0 {
			t = t.Add(coarseStep)
			continue
		}
		// The rise lies somewhere in the previous coarse step.
		from := t.Add(-coarseStep)
		if from.Before(start) {
			from = start
		}
		pass, last := s.refine(ctx, from, end, req.MinElevation)
		if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDur {
			passes = append(passes, *pass)
		}
		t = last.Add(coarseStep)
	}
	return passes, nil
}

// sample is one propagated position seen from the observer.
type sample struct {
	t    time.Time
	look transform.LookAngles
	ecef transform.PositionECEF
}

type sampler struct {
	prop *propagation.SGP4Propagator
	obs  transform.ObserverPosition
}

func (s sampler) at(t time.Time) (sample, bool) {
	teme, err := s.prop.PropagateAt(t)
	if err != nil {
		return sample{}, false
	}
	ecef := transform.TEMEToECEF(teme, t)
	return sample{
		t:    t,
		look: transform.ECEFToLookAngles(s.obs, ecef.X, ecef.Y, ecef.Z),
		ecef: ecef,
	}, true
}

// refine scans second by second from from until the satellite sets below
// minElev or until is reached. It returns the pass, if one rose, and the
// time the scan stopped.
func (s sampler) refine(ctx context.Context, from, until time.Time, minElev float64) (*PassEvent, time.Time) {
	var pass *PassEvent
	t := from
	for ; t.Before(until) && ctx.Err() == nil; t = t.Add(fineStep) {
		smp, ok := s.at(t)
		if !ok {
			continue
		}
		above := smp.look.ElevationDeg >= minElev
		switch {
		case above && pass == nil:
			pass = &PassEvent{
				StartTime:        t,
				StartAzimuth:     smp.look.AzimuthDeg,
				MaxElevation:     smp.look.ElevationDeg,
				MaxElevationTime: t,
				AzimuthAtMax:     smp.look.AzimuthDeg,
			}
			pass.observe(smp)
		case above:
			pass.observe(smp)
		case pass != nil:
			pass.close(smp)
			return pass, t
		}
	}
	if pass == nil {
		return nil, t
	}

	// Still up when the scan ended.
	if smp, ok := s.at(t); ok {
		pass.peak(smp)
		pass.close(smp)
	} else {
		pass.close(sample{t: t, look: transform.LookAngles{AzimuthDeg: pass.AzimuthAtMax}})
	}
	return pass, t
}

// observe records an above-horizon sample, adding a ground track point
// every groundTrackStep seconds after rise.
func (p *PassEvent) observe(smp sample) {
	p.peak(smp)
	if int(smp.t.Sub(p.StartTime).Seconds())%groundTrackStep != 0 {
		return
	}
	geo := transform.ECEFToGeodetic(smp.ecef.X, smp.ecef.Y, smp.ecef.Z)
	p.GroundTrack = append(p.GroundTrack, GroundTrackPoint{
		Time:      smp.t,
		Latitude:  geo.LatDeg,
		Longitude: geo.LonDeg,
		Altitude:  geo.AltM,
		Elevation: smp.look.ElevationDeg,
	})
}

func (p *PassEvent) peak(smp sample) {
	if el := smp.look.ElevationDeg; el > p.MaxElevation {
		p.MaxElevation = el
		p.MaxElevationTime = smp.t
		p.AzimuthAtMax = smp.look.AzimuthDeg
	}
}

func (p *PassEvent) close(smp sample) {
	p.EndTime = smp.t
	p.EndAzimuth = smp.look.AzimuthDeg
	p.DurationSeconds = p.EndTime.Sub(p.StartTime).Seconds()
}
