package netbus

import (
	"log/slog"
	"sync"
)

// Registry tracks live bus bindings so process shutdown can unbind them all.
// It is owned by the process lifecycle (created in main, passed down), not by
// the bus itself.
type Registry struct {
	mu      sync.Mutex
	unbinds map[*Bus]func()
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		unbinds: make(map[*Bus]func()),
		logger:  logger,
	}
}

// Add records a bound bus with its unbind function.
func (r *Registry) Add(b *Bus, unbind func()) {
	r.mu.Lock()
	r.unbinds[b] = unbind
	r.mu.Unlock()
}

// Remove unbinds one bus and forgets it. Unknown buses are ignored.
func (r *Registry) Remove(b *Bus) {
	r.mu.Lock()
	unbind := r.unbinds[b]
	delete(r.unbinds, b)
	r.mu.Unlock()

	if unbind != nil {
		unbind()
	}
}

// Len returns the number of tracked bindings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.unbinds)
}

// CloseAll unbinds every tracked bus. Safe to call repeatedly; unbind
// functions are themselves idempotent.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	unbinds := make([]func(), 0, len(r.unbinds))
	for _, u := range r.unbinds {
		unbinds = append(unbinds, u)
	}
	n := len(unbinds)
	r.unbinds = make(map[*Bus]func())
	r.mu.Unlock()

	for _, u := range unbinds {
		u()
	}
	if n > 0 {
		r.logger.Info("netbus: registry closed all bindings", "count", n)
	}
}
