// Command diag prints what the service would compute for a shared clock
// link: the simulation time, the TLE epoch it maps to and the upcoming
// passes of the first cached satellites over Denver.
//
//	diag '?date=1770379200000&rate=60'
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/timekeeper/internal/config"
	"github.com/star/timekeeper/internal/passes"
	"github.com/star/timekeeper/internal/propagation"
	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
	"github.com/star/timekeeper/internal/urlstate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(logger)
	if err != nil {
		fmt.Println("ERROR loading config:", err)
		os.Exit(1)
	}

	clock := simclock.New(simclock.SystemSource{}, logger)
	if len(os.Args) > 1 {
		st, err := urlstate.ParseLink(os.Args[1])
		if err != nil {
			fmt.Println("ERROR parsing link:", err)
			os.Exit(1)
		}
		st.Apply(clock)
	}
	clock.Advance()

	snap := clock.Snapshot()
	year, day := simclock.ComputeEpoch(snap.SimulationTime)
	fmt.Printf("Simulation time: %v (rate %.1fx, offset %v)\n",
		snap.SimulationTime.Format(time.RFC3339Nano), snap.Mapping.PropRate, clock.PropagationOffset())
	fmt.Printf("TLE epoch: %s%s\n", year, day)
	fmt.Printf("Link: %s\n", urlstate.FromSnapshot(snap).Link())

	ds, err := tle.LoadLatest(tle.NewCache(cfg.TLE.CacheDir, cfg.TLE.MaxFiles), logger)
	if err != nil {
		fmt.Println("ERROR loading TLE cache:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d TLE entries fetched %v\n", len(ds.Satellites), ds.FetchedAt.Format(time.RFC3339))

	store := tle.NewStore()
	store.Set(ds)
	prop := propagation.NewPropagator(store, propagation.PropConfig{
		Workers: cfg.Propagation.Workers,
		Step:    cfg.Propagation.KeyframeStep,
	}, logger)

	ctx := context.Background()
	keyframes, err := prop.GenerateKeyframes(ctx, propagation.Span{
		From:    snap.SimulationTime.Truncate(cfg.Propagation.KeyframeStep),
		Count:   5,
		Reverse: snap.Mapping.PropRate < 0,
	}, nil)
	if err != nil {
		fmt.Println("ERROR generating keyframes:", err)
	}
	for _, kf := range keyframes {
		fmt.Printf("  keyframe %v: %d satellites\n", kf.Timestamp.Format(time.RFC3339), len(kf.Satellites))
	}

	subset := ds.Satellites[:min(5, len(ds.Satellites))]
	req := passes.Request{
		Observer:     transform.NewObserverPosition(39.7392, -104.9903, 1609),
		Entries:      subset,
		HorizonHours: 72,
		MinElevation: 1,
		MaxPasses:    10,
	}
	results := passes.Predict(ctx, req, clock)

	totalPasses := 0
	for _, sat := range results {
		if sat.Error != "" {
			fmt.Printf("  NORAD %d: ERROR %s\n", sat.NORADID, sat.Error)
			continue
		}
		fmt.Printf("  NORAD %d: %d passes\n", sat.NORADID, len(sat.Passes))
		totalPasses += len(sat.Passes)
		for j, p := range sat.Passes {
			fmt.Printf("    pass %d: start=%v maxEl=%.1f° dur=%.0fs\n",
				j, p.StartTime.Format(time.RFC3339), p.MaxElevation, p.DurationSeconds)
		}
	}
	fmt.Printf("\nTotal passes found: %d\n", totalPasses)
}
