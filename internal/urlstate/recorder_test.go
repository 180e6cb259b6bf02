package urlstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/timekeeper/internal/simclock"
)

// blockingStore holds every Save until released.
type blockingStore struct {
	MemoryStore
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, s State) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.MemoryStore.Save(ctx, s)
}

type failingStore struct{}

func (failingStore) Save(context.Context, State) error { return errors.New("disk full") }
func (failingStore) Load(context.Context) (State, error) {
	return State{}, errors.New("disk full")
}

func TestRecorderLink(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), testLogger())
	assert.Empty(t, rec.Link())

	src := simclock.NewManualSource(t0)
	c := simclock.New(src, testLogger(), simclock.WithPersister(rec))
	c.SetRate(60)

	st, ok := rec.State()
	require.True(t, ok)
	assert.Equal(t, 60.0, st.PropRate)
	assert.True(t, t0.Equal(st.SimulationTime))
	assert.Equal(t, "?date=1770379200000&rate=60", rec.Link())

	src.Advance(time.Second)
	c.Toggle()
	assert.Equal(t, "?date=1770379260000&rate=0", rec.Link())
}

func TestRecorderRunSaves(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = rec.Run(ctx)
	}()

	c := simclock.New(simclock.NewManualSource(t0), testLogger(), simclock.WithPersister(rec))
	c.SetRate(5)

	require.Eventually(t, func() bool {
		st, err := store.Load(context.Background())
		return err == nil && st.PropRate == 5
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestRecorderLatestWins(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	rec := NewRecorder(store, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	c := simclock.New(simclock.NewManualSource(t0), testLogger(), simclock.WithPersister(rec))
	for _, rate := range []float64{2, 3, 4, 5, 6} {
		c.SetRate(rate)
	}
	close(store.release)

	require.Eventually(t, func() bool {
		st, err := store.Load(context.Background())
		return err == nil && st.PropRate == 6
	}, time.Second, 5*time.Millisecond)

	// At most the one in flight plus the latest.
	assert.LessOrEqual(t, store.Saves(), 2)

	cancel()
	<-done
}

func TestRecorderFlushesOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, testLogger())

	c := simclock.New(simclock.NewManualSource(t0), testLogger(), simclock.WithPersister(rec))
	c.SetRate(7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7.0, st.PropRate)
}

func TestRecorderSaveFailureIsLogged(t *testing.T) {
	rec := NewRecorder(failingStore{}, testLogger())
	c := simclock.New(simclock.NewManualSource(t0), testLogger(), simclock.WithPersister(rec))
	c.SetRate(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, rec.Run(ctx))
	assert.Equal(t, "?date=1770379200000&rate=3", rec.Link())
}

func TestRestore(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, testLogger())
	ctx := context.Background()

	_, err := rec.Restore(ctx, "", t0)
	assert.ErrorIs(t, err, ErrNoState)

	saved := State{SimulationTime: t0, PropRate: 30, SavedAt: t0}
	require.NoError(t, store.Save(ctx, saved))

	st, err := rec.Restore(ctx, "", t0)
	require.NoError(t, err)
	assert.Equal(t, saved, st)

	st, err = rec.Restore(ctx, "?date=0&rate=2", t0.Add(time.Hour))
	require.NoError(t, err, "a link takes precedence over the store")
	assert.Equal(t, int64(0), st.SimulationTime.UnixMilli())
	assert.Equal(t, 2.0, st.PropRate)

	_, err = rec.Restore(ctx, "?rate=2", t0)
	assert.Error(t, err)
}

func TestRestoreProjectsPlaybackSinceSave(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, testLogger())
	ctx := context.Background()

	sim := t0.Add(72 * time.Hour)
	require.NoError(t, store.Save(ctx, State{SimulationTime: sim, PropRate: 30, SavedAt: t0}))

	st, err := rec.Restore(ctx, "", t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.True(t, st.SimulationTime.Equal(sim.Add(5*time.Minute)), "got %v", st.SimulationTime)
	assert.Equal(t, 30.0, st.PropRate)

	// A paused clock resumes exactly where it stopped.
	require.NoError(t, store.Save(ctx, State{SimulationTime: sim, PropRate: 0, SavedAt: t0}))
	st, err = rec.Restore(ctx, "", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, st.SimulationTime.Equal(sim), "got %v", st.SimulationTime)

	// Reverse playback runs backwards through the downtime.
	require.NoError(t, store.Save(ctx, State{SimulationTime: sim, PropRate: -2, SavedAt: t0}))
	st, err = rec.Restore(ctx, "", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, st.SimulationTime.Equal(sim.Add(-2*time.Minute)), "got %v", st.SimulationTime)
}
