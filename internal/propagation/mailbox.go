package propagation

import (
	"sync/atomic"

	"github.com/star/timekeeper/internal/simclock"
)

// mailbox is a one-slot, latest-wins inbox for synchronization messages.
type mailbox struct {
	ch    chan simclock.Mapping
	ready atomic.Bool
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan simclock.Mapping, 1)}
}

// post replaces any pending mapping with the one carried by msg.
func (m *mailbox) post(msg simclock.SyncMessage) bool {
	if msg.Type != simclock.SyncTypeOffset {
		return false
	}
	mapping := msg.Mapping()
	select {
	case m.ch <- mapping:
		return true
	default:
	}
	// Drop the stale pending mapping.
	select {
	case <-m.ch:
	default:
	}
	select {
	case m.ch <- mapping:
		return true
	default:
		return false
	}
}
