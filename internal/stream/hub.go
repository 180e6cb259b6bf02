package stream

import (
	"sync"

	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/simclock"
)

// subscriberBuffer is how many events a slow subscriber may fall behind
// before events are dropped for it.
const subscriberBuffer = 16

// Event is one message on the clock stream.
type Event struct {
	Type      string            `json:"type"` // "clock" or "toast"
	Text      string            `json:"text"`
	DayOfYear int               `json:"day_of_year,omitempty"`
	Severity  simclock.Severity `json:"severity,omitempty"`
}

// Hub is the clock's display sink and toaster. It fans every display
// refresh and notification out to the connected clock streams. Publishing
// never blocks the frame loop.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	last *Event
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Display implements simclock.DisplaySink.
func (h *Hub) Display(text string, dayOfYear int) {
	ev := Event{Type: "clock", Text: text, DayOfYear: dayOfYear}
	h.mu.Lock()
	h.last = &ev
	h.mu.Unlock()
	h.publish(ev)
}

// Toast implements simclock.Toaster.
func (h *Hub) Toast(n simclock.Notification) {
	h.publish(Event{Type: "toast", Text: n.Text, Severity: n.Severity})
}

// Last returns the most recent display event.
func (h *Hub) Last() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return Event{}, false
	}
	return *h.last, true
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to unregister it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			metrics.IncStreamErrors("slow_subscriber")
		}
	}
}
