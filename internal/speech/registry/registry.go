package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/voicetyped/transcriber/internal/speech/transcript"
)

// Factory creates an instance of T from a config map.
type Factory[T any] func(config map[string]string) (T, error)

// Registry holds named factories for creating instances of T.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New creates a new empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]Factory[T]),
	}
}

// Register adds a named factory to the registry. Registering the same name
// twice replaces the earlier factory.
func (r *Registry[T]) Register(name string, factory Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates T using the named factory. Unknown names are a
// configuration error.
func (r *Registry[T]) Create(name string, config map[string]string) (T, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: unknown backend %q (available: %s)",
			transcript.ErrInvalidConfig, name, strings.Join(r.List(), ", "))
	}

	return factory(config)
}

// Has returns true if the named factory exists.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns all registered factory names in sorted order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
