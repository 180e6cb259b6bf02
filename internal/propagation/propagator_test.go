package propagation

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/star/timekeeper/internal/tle"
	"github.com/star/timekeeper/internal/transform"
)

// ISS TLE (epoch 2024, will still propagate reasonably for near-future times).
// These are real ISS orbital elements used for testing.
const (
	issLine1 = "1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005"
	issLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"
)

// Starlink TLE (typical LEO constellation satellite).
const (
	starlinkLine1 = "1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995"
	starlinkLine2 = "2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// TestPropagateSingle verifies that a single satellite can be propagated
// and that the ECEF output is reasonable.
func TestPropagateSingle(t *testing.T) {
	prop, err := NewSGP4Propagator(issLine1, issLine2, 25544)
	if err != nil {
		t.Fatalf("NewSGP4Propagator failed: %v", err)
	}

	// Propagate to a time near the TLE epoch.
	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	teme, err := prop.Propagate(target.Year(), int(target.Month()), target.Day(), target.Hour(), target.Minute(), target.Second())
	if err != nil {
		t.Fatalf("Propagate failed: %v", err)
	}

	// Verify TEME position magnitude is reasonable for ISS (~420km altitude).
	// Expected: ~6371 + 420 = 6791 km.
	mag := math.Sqrt(teme.X*teme.X + teme.Y*teme.Y + teme.Z*teme.Z)
	if mag < 6500 || mag > 7000 {
		t.Errorf("TEME position magnitude = %.1f km, expected ~6791 km (ISS orbit)", mag)
	}

	// Transform to ECEF and verify.
	ecef := transform.TEMEToECEF(teme, target)
	if !transform.ValidateECEF(ecef) {
		t.Errorf("ECEF position failed validation: [%.1f, %.1f, %.1f] m", ecef.X, ecef.Y, ecef.Z)
	}

	// ECEF magnitude should match TEME magnitude (just rotated + unit converted).
	ecefMag := math.Sqrt(ecef.X*ecef.X+ecef.Y*ecef.Y+ecef.Z*ecef.Z) / 1000.0
	if math.Abs(ecefMag-mag) > 0.01 {
		t.Errorf("ECEF magnitude = %.3f km, TEME magnitude = %.3f km (should match)", ecefMag, mag)
	}
}

// TestPropagateInvalidTLE verifies that an invalid TLE returns an error.
func TestPropagateInvalidTLE(t *testing.T) {
	_, err := NewSGP4Propagator("invalid line 1", "invalid line 2", 99999)
	if err == nil {
		t.Fatal("expected error for invalid TLE, got nil")
	}
	t.Logf("Expected error for invalid TLE: %v", err)
}

// TestWorkerPoolBatch verifies the worker pool processes multiple satellites correctly.
func TestWorkerPoolBatch(t *testing.T) {
	logger := testLogger()
	pool := NewWorkerPool(4, logger)

	entries := []tle.TLEEntry{
		{NORADID: 25544, Name: "ISS", Line1: issLine1, Line2: issLine2},
		{NORADID: 44713, Name: "STARLINK-1007", Line1: starlinkLine1, Line2: starlinkLine2},
	}

	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	positions, successCount, errorCount := pool.PropagateBatch(ctx, entries, target, nil)
	if errorCount > 0 {
		t.Logf("errors: %d (may be expected for synthetic TLE)", errorCount)
	}
	if successCount == 0 {
		t.Fatal("expected at least one successful propagation")
	}

	// Verify each position is physically reasonable.
	for _, pos := range positions {
		ecef := transform.PositionECEF{X: pos.PositionECEF[0], Y: pos.PositionECEF[1], Z: pos.PositionECEF[2]}
		if !transform.ValidateECEF(ecef) {
			t.Errorf("NORAD %d: ECEF position failed validation: %v", pos.NORADID, pos.PositionECEF)
		}
	}
}

// TestWorkerPoolUsesCachedPropagators verifies that preinitialized
// propagators produce the same positions as building them per job.
func TestWorkerPoolUsesCachedPropagators(t *testing.T) {
	pool := NewWorkerPool(2, testLogger())
	entries := []tle.TLEEntry{{NORADID: 25544, Name: "ISS", Line1: issLine1, Line2: issLine2}}

	cached, err := NewSGP4Propagator(issLine1, issLine2, 25544)
	if err != nil {
		t.Fatalf("NewSGP4Propagator failed: %v", err)
	}
	props := map[int]*SGP4Propagator{cached.NORADID(): cached}

	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	fresh, _, _ := pool.PropagateBatch(context.Background(), entries, target, nil)
	reused, _, _ := pool.PropagateBatch(context.Background(), entries, target, props)

	if len(fresh) != 1 || len(reused) != 1 {
		t.Fatalf("got %d and %d positions, want 1 each", len(fresh), len(reused))
	}
	if fresh[0].PositionECEF != reused[0].PositionECEF {
		t.Errorf("cached propagator position %v differs from fresh %v", reused[0].PositionECEF, fresh[0].PositionECEF)
	}
}

// TestWorkerPoolCancellation verifies the worker pool respects context cancellation.
func TestWorkerPoolCancellation(t *testing.T) {
	logger := testLogger()
	pool := NewWorkerPool(2, logger)

	// Create many entries to ensure some are still pending when we cancel.
	entries := make([]tle.TLEEntry, 100)
	for i := range entries {
		entries[i] = tle.TLEEntry{
			NORADID: 25544 + i,
			Name:    "TEST",
			Line1:   issLine1,
			Line2:   issLine2,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately.

	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	positions, _, _ := pool.PropagateBatch(ctx, entries, target, nil)

	// Nothing is scheduled once the context is done.
	if len(positions) != 0 {
		t.Errorf("expected no results with cancelled context, got %d/%d", len(positions), len(entries))
	}
}

// TestWorkerPoolKeepsCatalogOrder verifies positions follow the entry order
// regardless of which worker finishes first.
func TestWorkerPoolKeepsCatalogOrder(t *testing.T) {
	pool := NewWorkerPool(8, testLogger())

	entries := make([]tle.TLEEntry, 50)
	for i := range entries {
		entries[i] = tle.TLEEntry{NORADID: 50000 - i, Line1: issLine1, Line2: issLine2}
	}
	// A malformed entry in the middle is dropped without shifting the rest.
	entries[10].Line2 = "garbage"

	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	positions, succeeded, failed := pool.PropagateBatch(context.Background(), entries, target, nil)
	if succeeded != 49 || failed != 1 {
		t.Fatalf("succeeded/failed = %d/%d, want 49/1", succeeded, failed)
	}

	want := 0
	for _, pos := range positions {
		if want == 10 {
			want++
		}
		if pos.NORADID != entries[want].NORADID {
			t.Fatalf("position %d has NORAD %d, want %d", want, pos.NORADID, entries[want].NORADID)
		}
		want++
	}
}

// TestPropagatorGenerateKeyframes verifies spans walk the timeline in
// playback direction and skip frames that are already present.
func TestPropagatorGenerateKeyframes(t *testing.T) {
	store := tle.NewStore()
	store.Set(tle.NewDataset("test", time.Now(), []tle.TLEEntry{
		{NORADID: 25544, Name: "ISS", Line1: issLine1, Line2: issLine2},
	}))
	prop := NewPropagator(store, PropConfig{Workers: 2, Step: 5 * time.Second}, testLogger())

	ctx := context.Background()
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		span Span
		have func(time.Time) bool
		want []time.Time
	}{
		{
			name: "forward",
			span: Span{From: start, Count: 4},
			want: []time.Time{start, start.Add(5 * time.Second), start.Add(10 * time.Second), start.Add(15 * time.Second)},
		},
		{
			name: "reverse",
			span: Span{From: start, Count: 3, Reverse: true},
			want: []time.Time{start, start.Add(-5 * time.Second), start.Add(-10 * time.Second)},
		},
		{
			name: "custom step skipping cached",
			span: Span{From: start, Count: 3, Step: time.Minute},
			have: func(ts time.Time) bool { return ts.Equal(start.Add(time.Minute)) },
			want: []time.Time{start, start.Add(2 * time.Minute)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyframes, err := prop.GenerateKeyframes(ctx, tt.span, tt.have)
			if err != nil {
				t.Fatalf("GenerateKeyframes failed: %v", err)
			}
			if len(keyframes) != len(tt.want) {
				t.Fatalf("got %d keyframes, want %d", len(keyframes), len(tt.want))
			}
			for i, kf := range keyframes {
				if !kf.Timestamp.Equal(tt.want[i]) {
					t.Errorf("keyframe %d: time = %v, want %v", i, kf.Timestamp, tt.want[i])
				}
				if len(kf.Satellites) != 1 {
					t.Errorf("keyframe %d: got %d satellites, want 1", i, len(kf.Satellites))
				}
			}
		})
	}
}

// TestPropagatorNoDataset verifies error when no TLE data is loaded.
func TestPropagatorNoDataset(t *testing.T) {
	logger := testLogger()
	store := tle.NewStore() // Empty store.

	cfg := PropConfig{Workers: 2, Step: 5 * time.Second}
	prop := NewPropagator(store, cfg, logger)

	if _, err := prop.PropagateToTime(context.Background(), time.Now()); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("PropagateToTime error = %v, want ErrNoDataset", err)
	}
	if _, err := prop.GenerateKeyframes(context.Background(), Span{From: time.Now(), Count: 2}, nil); !errors.Is(err, ErrNoDataset) {
		t.Fatalf("GenerateKeyframes error = %v, want ErrNoDataset", err)
	}
}

// BenchmarkPropagate1000 benchmarks propagating 1000 satellites.
func BenchmarkPropagate1000(b *testing.B) {
	logger := testLogger()

	// Create 1000 entries using the ISS TLE (same TLE, different NORAD IDs).
	entries := make([]tle.TLEEntry, 1000)
	for i := range entries {
		entries[i] = tle.TLEEntry{
			NORADID: 25544 + i,
			Name:    "TEST",
			Line1:   issLine1,
			Line2:   issLine2,
		}
	}

	store := tle.NewStore()
	store.Set(&tle.TLEDataset{
		Source:     "bench",
		FetchedAt:  time.Now(),
		Satellites: entries,
	})

	cfg := PropConfig{Workers: 4, Step: 5 * time.Second}
	prop := NewPropagator(store, cfg, logger)
	target := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := prop.PropagateToTime(ctx, target)
		if err != nil {
			b.Fatal(err)
		}
	}
}
