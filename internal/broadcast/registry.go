// Package broadcast fans clock synchronization messages out to the
// background workers that derive simulation time on their own.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/star/timekeeper/internal/metrics"
	"github.com/star/timekeeper/internal/simclock"
)

// Handle is a worker that accepts synchronization messages.
type Handle interface {
	// Name identifies the worker in logs and metrics.
	Name() string
	// Ready reports whether the worker can accept messages.
	Ready() bool
	// Post delivers msg without blocking. It returns false if the
	// message was not accepted.
	Post(msg simclock.SyncMessage) bool
}

// Registry holds the registered workers in registration order.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles []Handle
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger.With("component", "broadcast")}
}

// Register adds h to the registry. Registering the same handle twice, or a
// nil handle, is a no-op.
func (r *Registry) Register(h Handle) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.handles {
		if existing == h {
			return
		}
	}
	r.handles = append(r.handles, h)
	r.logger.Info("worker registered", "worker", h.Name())
}

// Unregister removes h from the registry.
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.handles {
		if existing == h {
			r.handles = append(r.handles[:i:i], r.handles[i+1:]...)
			r.logger.Info("worker unregistered", "worker", h.Name())
			return
		}
	}
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Notify posts msg to every ready worker. Workers that are not ready, or
// whose mailbox rejects the message, are skipped.
func (r *Registry) Notify(msg simclock.SyncMessage) {
	r.mu.RLock()
	handles := r.handles
	r.mu.RUnlock()

	for _, h := range handles {
		if !h.Ready() {
			metrics.IncSyncSkipped(h.Name())
			r.logger.Debug("worker not ready, sync skipped", "worker", h.Name())
			continue
		}
		if !h.Post(msg) {
			metrics.IncSyncSkipped(h.Name())
			r.logger.Warn("worker rejected sync", "worker", h.Name())
			continue
		}
		metrics.IncSyncSent(h.Name())
	}
}
