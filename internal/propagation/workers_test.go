package propagation

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/star/timekeeper/internal/simclock"
	"github.com/star/timekeeper/internal/tle"
)

var workerEpoch = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

// fakeFrames is an in-memory KeyframeStore that records resets.
type fakeFrames struct {
	mu     sync.Mutex
	step   time.Duration
	frames map[time.Time]*Keyframe
	resets []string
}

func newFakeFrames(step time.Duration) *fakeFrames {
	return &fakeFrames{step: step, frames: make(map[time.Time]*Keyframe)}
}

func (f *fakeFrames) Step() time.Duration { return f.step }

func (f *fakeFrames) Contains(t time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.frames[t.UTC().Truncate(f.step)]
	return ok
}

func (f *fakeFrames) Put(kf *Keyframe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[kf.Timestamp.UTC().Truncate(f.step)] = kf
}

func (f *fakeFrames) EvictOutside(time.Time) int { return 0 }

func (f *fakeFrames) Reset(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = make(map[time.Time]*Keyframe)
	f.resets = append(f.resets, reason)
}

func (f *fakeFrames) snapshot() (map[time.Time]*Keyframe, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make(map[time.Time]*Keyframe, len(f.frames))
	for k, v := range f.frames {
		frames[k] = v
	}
	return frames, append([]string(nil), f.resets...)
}

func issStore() *tle.Store {
	store := tle.NewStore()
	store.Set(tle.NewDataset("test", workerEpoch, []tle.TLEEntry{
		{NORADID: 25544, Name: "ISS", Line1: issLine1, Line2: issLine2},
	}))
	return store
}

func newTestCruncher(src simclock.Source, initial simclock.Mapping, frames *fakeFrames, store *tle.Store) *Cruncher {
	prop := NewPropagator(store, PropConfig{Workers: 2}, testLogger())
	return NewCruncher(prop, store, frames, src, initial, CruncherConfig{Interval: 50 * time.Millisecond, Lookahead: 3}, testLogger())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMailboxLatestWins(t *testing.T) {
	m := newMailbox()
	for _, rate := range []float64{1, 2, 3} {
		if !m.post(simclock.SyncMessage{Type: simclock.SyncTypeOffset, PropRate: rate}) {
			t.Fatalf("post rate %v rejected", rate)
		}
	}

	got := <-m.ch
	if got.PropRate != 3 {
		t.Errorf("pending mapping rate = %v, want 3", got.PropRate)
	}
	select {
	case extra := <-m.ch:
		t.Errorf("unexpected second pending mapping %+v", extra)
	default:
	}
}

func TestMailboxRejectsUnknownType(t *testing.T) {
	m := newMailbox()
	if m.post(simclock.SyncMessage{Type: "catalog"}) {
		t.Error("expected unknown message type to be rejected")
	}
}

func TestCruncherFillsForward(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch.Add(2 * time.Second))
	frames := newFakeFrames(5 * time.Second)
	c := newTestCruncher(src, simclock.RealTime(workerEpoch), frames, issStore())

	c.crunch(context.Background())

	got, _ := frames.snapshot()
	for _, offset := range []time.Duration{0, 5 * time.Second, 10 * time.Second} {
		if _, ok := got[workerEpoch.Add(offset)]; !ok {
			t.Errorf("missing keyframe at +%v", offset)
		}
	}
	if len(got) != 3 {
		t.Errorf("got %d keyframes, want 3", len(got))
	}
	if latest := c.Latest(); latest == nil || !latest.Timestamp.Equal(workerEpoch) {
		t.Errorf("Latest = %v, want keyframe at %v", latest, workerEpoch)
	}
}

func TestCruncherFillsBackwardInReverse(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	frames := newFakeFrames(5 * time.Second)
	reverse := simclock.Mapping{DynamicOffsetEpoch: workerEpoch, PropRate: -10}
	c := newTestCruncher(src, reverse, frames, issStore())

	src.Set(workerEpoch.Add(time.Second)) // sim = epoch - 10s
	c.crunch(context.Background())

	got, _ := frames.snapshot()
	for _, offset := range []time.Duration{-10 * time.Second, -15 * time.Second, -20 * time.Second} {
		if _, ok := got[workerEpoch.Add(offset)]; !ok {
			t.Errorf("missing keyframe at %v", offset)
		}
	}
}

func TestCruncherFrozenNeedsOneFrame(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	frames := newFakeFrames(5 * time.Second)
	frozen := simclock.Mapping{DynamicOffsetEpoch: workerEpoch, StaticOffset: time.Hour}
	c := newTestCruncher(src, frozen, frames, issStore())

	c.crunch(context.Background())
	src.Set(workerEpoch.Add(time.Minute))
	c.crunch(context.Background())

	got, _ := frames.snapshot()
	if len(got) != 1 {
		t.Fatalf("got %d keyframes, want 1", len(got))
	}
	if _, ok := got[workerEpoch.Add(time.Hour)]; !ok {
		t.Error("missing keyframe at the frozen instant")
	}
}

func TestCruncherResetsOnJump(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	frames := newFakeFrames(5 * time.Second)
	initial := simclock.RealTime(workerEpoch)
	c := newTestCruncher(src, initial, frames, issStore())
	c.crunch(context.Background())

	// A rate change is continuous: no reset.
	c.apply(simclock.Mapping{DynamicOffsetEpoch: workerEpoch, PropRate: 60})
	if _, resets := frames.snapshot(); len(resets) != 0 {
		t.Fatalf("continuous rate change reset the cache: %v", resets)
	}

	// A one-day jump is not.
	c.apply(simclock.Mapping{DynamicOffsetEpoch: workerEpoch, StaticOffset: 24 * time.Hour, PropRate: 60})
	_, resets := frames.snapshot()
	if len(resets) != 1 || resets[0] != "simulation time jump" {
		t.Errorf("resets = %v, want one jump reset", resets)
	}
	if got := c.SimulationTime(); !got.Equal(workerEpoch.Add(24 * time.Hour)) {
		t.Errorf("SimulationTime = %v, want %v", got, workerEpoch.Add(24*time.Hour))
	}
}

func TestCruncherResetsOnCatalogChange(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	frames := newFakeFrames(5 * time.Second)
	store := issStore()
	c := newTestCruncher(src, simclock.RealTime(workerEpoch), frames, store)
	c.crunch(context.Background())

	store.Set(tle.NewDataset("updated", workerEpoch.Add(time.Hour), store.Get().Satellites))
	c.crunch(context.Background())

	got, resets := frames.snapshot()
	if len(resets) != 1 || resets[0] != "catalog changed" {
		t.Errorf("resets = %v, want one catalog reset", resets)
	}
	if len(got) == 0 {
		t.Error("expected keyframes to be regenerated after the reset")
	}
}

func TestCruncherRunFollowsSync(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	frames := newFakeFrames(5 * time.Second)
	c := newTestCruncher(src, simclock.RealTime(workerEpoch), frames, issStore())

	if c.Ready() {
		t.Fatal("cruncher should not be ready before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	waitFor(t, "cruncher ready", c.Ready)

	jumped := simclock.Mapping{DynamicOffsetEpoch: workerEpoch, StaticOffset: 48 * time.Hour, PropRate: 1}
	if !c.Post(jumped.Message()) {
		t.Fatal("Post rejected")
	}
	waitFor(t, "keyframe at jumped time", func() bool {
		return frames.Contains(workerEpoch.Add(48 * time.Hour))
	})
	if got := c.Mapping(); got.StaticOffset != jumped.StaticOffset || !got.DynamicOffsetEpoch.Equal(jumped.DynamicOffsetEpoch) {
		t.Errorf("Mapping = %+v, want %+v", got, jumped)
	}

	cancel()
	<-done
	if c.Ready() {
		t.Error("cruncher should not be ready after Run returns")
	}
}

func TestOrbitBuilderTracesOnePeriod(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	store := issStore()
	prop := NewPropagator(store, PropConfig{Workers: 1}, testLogger())
	b := NewOrbitBuilder(prop, store, src, simclock.RealTime(workerEpoch), OrbitConfig{Segments: 30}, testLogger())

	b.Build(context.Background())

	paths := b.Paths()
	if len(paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(paths))
	}
	path := paths[0]
	if path.NORADID != 25544 || len(path.Points) != 31 {
		t.Fatalf("path %d has %d points, want 25544 with 31", path.NORADID, len(path.Points))
	}
	if !path.Start.Equal(workerEpoch) || !path.Points[0].Time.Equal(workerEpoch) {
		t.Errorf("path starts at %v, want %v", path.Points[0].Time, workerEpoch)
	}

	wantPeriod := 86400.0 / 15.5
	if math.Abs(path.PeriodSeconds-wantPeriod) > 1 {
		t.Errorf("period = %.1fs, want %.1fs", path.PeriodSeconds, wantPeriod)
	}
	last := path.Points[len(path.Points)-1].Time
	if d := last.Sub(workerEpoch).Seconds() - wantPeriod; math.Abs(d) > 1 {
		t.Errorf("last point %v is %.1fs off one period", last, d)
	}

	for i, p := range path.Points {
		if p.AltitudeKm < 300 || p.AltitudeKm > 500 {
			t.Errorf("point %d altitude %.1f km out of LEO range", i, p.AltitudeKm)
		}
		if p.Latitude < -52 || p.Latitude > 52 {
			t.Errorf("point %d latitude %.2f exceeds inclination", i, p.Latitude)
		}
	}
}

func TestOrbitBuilderFollowsMapping(t *testing.T) {
	src := simclock.NewManualSource(workerEpoch)
	store := issStore()
	prop := NewPropagator(store, PropConfig{Workers: 1}, testLogger())
	frozen := simclock.Mapping{DynamicOffsetEpoch: workerEpoch, StaticOffset: 6 * time.Hour}
	b := NewOrbitBuilder(prop, store, src, frozen, OrbitConfig{NORADIDs: []int{25544, 12345}, Segments: 10}, testLogger())

	b.Build(context.Background())
	first := b.Paths()
	if len(first) != 1 {
		t.Fatalf("got %d paths, want 1 (unknown IDs are skipped)", len(first))
	}
	if !first[0].Start.Equal(workerEpoch.Add(6 * time.Hour)) {
		t.Errorf("path start = %v, want %v", first[0].Start, workerEpoch.Add(6*time.Hour))
	}

	// Frozen time: rebuilding produces nothing new.
	src.Set(workerEpoch.Add(time.Hour))
	b.Build(context.Background())
	if &b.Paths()[0] != &first[0] {
		t.Error("frozen clock should not rebuild paths")
	}
}
