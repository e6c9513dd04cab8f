package exporter

import (
	"fmt"
	"sync"
)

// Registry manages exporter instances.
type Registry struct {
	exporters map[Provider]Exporter
	mu        sync.RWMutex
}

// NewRegistry creates a new exporter registry.
func NewRegistry() *Registry {
	return &Registry{
		exporters: make(map[Provider]Exporter),
	}
}

// Register adds an exporter to the registry.
func (r *Registry) Register(e Exporter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := e.Provider()
	if _, exists := r.exporters[p]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, p)
	}

	r.exporters[p] = e
	return nil
}

// Get retrieves an exporter by provider.
func (r *Registry) Get(p Provider) (Exporter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.exporters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return e, nil
}

// Providers returns the registered provider identifiers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.exporters))
	for p := range r.exporters {
		providers = append(providers, p)
	}
	return providers
}

// Close closes all registered exporters and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for _, e := range r.exporters {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}
