package urlstate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/star/timekeeper/internal/simclock"
)

// flushTimeout bounds the final save on shutdown.
const flushTimeout = 5 * time.Second

// Store saves and loads the latest clock state.
type Store interface {
	Save(ctx context.Context, s State) error
	Load(ctx context.Context) (State, error)
}

// Recorder is the clock's state persister. Persist is called on the frame
// goroutine and never blocks; saving happens in Run.
type Recorder struct {
	store  Store
	logger *slog.Logger

	latest  atomic.Pointer[State]
	pending chan State
}

// NewRecorder creates a recorder saving to store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		logger:  logger.With("component", "urlstate"),
		pending: make(chan State, 1),
	}
}

// Persist records the snapshot as the latest state and queues it for saving.
// A state still waiting to be saved is replaced.
func (r *Recorder) Persist(s simclock.Snapshot) {
	st := FromSnapshot(s)
	r.latest.Store(&st)

	select {
	case r.pending <- st:
		return
	default:
	}
	select {
	case <-r.pending:
	default:
	}
	select {
	case r.pending <- st:
	default:
	}
}

// State returns the latest recorded state.
func (r *Recorder) State() (State, bool) {
	st := r.latest.Load()
	if st == nil {
		return State{}, false
	}
	return *st, true
}

// Link returns the shareable link for the latest state, or "" if the clock
// has not changed since startup.
func (r *Recorder) Link() string {
	st, ok := r.State()
	if !ok {
		return ""
	}
	return st.Link()
}

// Restore returns the state to start from at wall time now: the given
// link if set, otherwise the stored state projected forward to now, as if
// playback had continued while the process was down. ErrNoState means
// start fresh.
func (r *Recorder) Restore(ctx context.Context, link string, now time.Time) (State, error) {
	if link != "" {
		st, err := ParseLink(link)
		if err != nil {
			return State{}, err
		}
		r.logger.Info("restoring clock from link", "link", link)
		return st, nil
	}

	saved, err := r.store.Load(ctx)
	if err != nil {
		return State{}, err
	}
	st := saved.At(now)
	r.logger.Info("restoring clock from store",
		"saved_simulation_time", saved.SimulationTime.Format(time.RFC3339),
		"simulation_time", st.SimulationTime.Format(time.RFC3339),
		"prop_rate", st.PropRate,
		"saved_at", saved.SavedAt.Format(time.RFC3339),
	)
	return st, nil
}

// Run saves queued states until ctx is cancelled, then flushes the last one.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case st := <-r.pending:
			r.save(ctx, st)
		}
	}
}

func (r *Recorder) flush() {
	select {
	case st := <-r.pending:
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		r.save(ctx, st)
	default:
	}
}

func (r *Recorder) save(ctx context.Context, st State) {
	if err := r.store.Save(ctx, st); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("failed to save clock state", "error", err)
		return
	}
	r.logger.Debug("clock state saved", "link", st.Link())
}
