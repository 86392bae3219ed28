package backend

import (
	"fmt"
	"slices"
	"sync"
)

// Registry manages backend instances.
type Registry struct {
	backends map[Provider]Backend
	mu       sync.RWMutex
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[Provider]Backend),
	}
}

// Register adds a backend to the registry.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.backends[b.Provider()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, b.Provider())
	}
	r.backends[b.Provider()] = b

	return nil
}

// Get retrieves a backend by provider.
func (r *Registry) Get(p Provider) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}

	return b, nil
}

// Providers returns the registered providers, sorted.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.backends))
	for p := range r.backends {
		out = append(out, p)
	}
	slices.Sort(out)

	return out
}

// Close closes all registered backends.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			return err
		}
	}

	return nil
}
