package handlers

import (
	"sort"
	"strings"
	"sync"

	errspkg "github.com/drblury/protobus/internal/runtime/errors"
)

// Registry maps event names to descriptors. Each client owns one.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Descriptor)}
}

// Register stores desc under name. An existing entry is replaced.
func (r *Registry) Register(name string, desc *Descriptor) error {
	if strings.TrimSpace(name) == "" {
		return errspkg.ErrEventNameRequired
	}
	if desc == nil || (desc.fn == nil && desc.async == nil) {
		return errspkg.ErrHandlerRequired
	}

	r.mu.Lock()
	r.handlers[name] = desc.named(name)
	r.mu.Unlock()
	return nil
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.handlers[name]
	return d, ok
}

// Unregister removes name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[name]
	delete(r.handlers, name)
	return ok
}

// Names lists the registered event names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
