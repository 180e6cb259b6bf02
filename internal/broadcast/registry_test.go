package broadcast

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/star/timekeeper/internal/simclock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeHandle struct {
	name   string
	ready  atomic.Bool
	accept bool

	mu   sync.Mutex
	msgs []simclock.SyncMessage
}

func newFakeHandle(name string, ready bool) *fakeHandle {
	h := &fakeHandle{name: name, accept: true}
	h.ready.Store(ready)
	return h
}

func (h *fakeHandle) Name() string { return h.name }
func (h *fakeHandle) Ready() bool  { return h.ready.Load() }

func (h *fakeHandle) Post(msg simclock.SyncMessage) bool {
	if !h.accept {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return true
}

func (h *fakeHandle) received() []simclock.SyncMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]simclock.SyncMessage(nil), h.msgs...)
}

func TestNotifyDeliversToReadyWorkers(t *testing.T) {
	r := NewRegistry(testLogger())
	cruncher := newFakeHandle("cruncher", true)
	orbits := newFakeHandle("orbits", true)
	r.Register(cruncher)
	r.Register(orbits)

	msg := simclock.SyncMessage{Type: simclock.SyncTypeOffset, StaticOffset: 1000, DynamicOffsetEpoch: 42, PropRate: 2}
	r.Notify(msg)

	assert.Equal(t, []simclock.SyncMessage{msg}, cruncher.received())
	assert.Equal(t, []simclock.SyncMessage{msg}, orbits.received())
}

func TestNotifySkipsNotReadyWorker(t *testing.T) {
	r := NewRegistry(testLogger())
	cruncher := newFakeHandle("cruncher", true)
	orbits := newFakeHandle("orbits", false)
	r.Register(cruncher)
	r.Register(orbits)

	assert.NotPanics(t, func() { r.Notify(simclock.SyncMessage{Type: simclock.SyncTypeOffset, PropRate: 1}) })
	assert.Len(t, cruncher.received(), 1)
	assert.Empty(t, orbits.received())

	orbits.ready.Store(true)
	r.Notify(simclock.SyncMessage{Type: simclock.SyncTypeOffset, PropRate: 5})
	assert.Len(t, orbits.received(), 1)
	assert.Equal(t, 5.0, orbits.received()[0].PropRate)
}

func TestNotifyToleratesRejectingWorker(t *testing.T) {
	r := NewRegistry(testLogger())
	full := newFakeHandle("full", true)
	full.accept = false
	ok := newFakeHandle("ok", true)
	r.Register(full)
	r.Register(ok)

	r.Notify(simclock.SyncMessage{Type: simclock.SyncTypeOffset})
	assert.Len(t, ok.received(), 1)
}

func TestRegisterIgnoresDuplicatesAndNil(t *testing.T) {
	r := NewRegistry(testLogger())
	h := newFakeHandle("cruncher", true)

	r.Register(h)
	r.Register(h)
	r.Register(nil)
	assert.Equal(t, 1, r.Len())

	r.Notify(simclock.SyncMessage{})
	assert.Len(t, h.received(), 1)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(testLogger())
	a := newFakeHandle("a", true)
	b := newFakeHandle("b", true)
	r.Register(a)
	r.Register(b)

	r.Unregister(a)
	r.Unregister(a)
	assert.Equal(t, 1, r.Len())

	r.Notify(simclock.SyncMessage{})
	assert.Empty(t, a.received())
	assert.Len(t, b.received(), 1)
}

func TestRegistryWorksWithClock(t *testing.T) {
	r := NewRegistry(testLogger())
	h := newFakeHandle("cruncher", true)
	r.Register(h)

	src := simclock.NewManualSource(simclock.SystemSource{}.Now())
	c := simclock.New(src, testLogger(), simclock.WithBroadcaster(r))
	c.SetRate(60)
	c.SetRate(60)

	msgs := h.received()
	assert.Len(t, msgs, 1)
	assert.Equal(t, c.Mapping(), msgs[0].Mapping())
}

func TestConcurrentRegisterAndNotify(t *testing.T) {
	r := NewRegistry(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := newFakeHandle("w", true)
			r.Register(h)
			r.Unregister(h)
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Notify(simclock.SyncMessage{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
