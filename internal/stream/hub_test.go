package stream

import (
	"testing"

	"github.com/star/timekeeper/internal/simclock"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Display("02/06/26 12:00:00 UTC", 37)

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != "clock" || ev.DayOfYear != 37 {
				t.Errorf("%s: event = %+v", name, ev)
			}
		default:
			t.Errorf("%s: no event delivered", name)
		}
	}
}

func TestHubLast(t *testing.T) {
	hub := NewHub()
	if _, ok := hub.Last(); ok {
		t.Fatal("expected no last event")
	}

	hub.Display("first", 1)
	hub.Toast(simclock.RateNotification(2))
	hub.Display("second", 2)

	last, ok := hub.Last()
	if !ok || last.Text != "second" {
		t.Errorf("Last() = %+v, %v; want second display", last, ok)
	}
}

// TestHubSlowSubscriber verifies a full subscriber drops events instead of
// blocking the publisher.
func TestHubSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*3; i++ {
		hub.Display("tick", i)
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
	if ev := <-ch; ev.DayOfYear != 0 {
		t.Errorf("oldest kept event day = %d, want 0", ev.DayOfYear)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	if hub.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", hub.Subscribers())
	}

	cancel()
	cancel()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want 0", hub.Subscribers())
	}

	hub.Display("after", 1)
	if len(ch) != 0 {
		t.Error("unsubscribed channel received an event")
	}
}
