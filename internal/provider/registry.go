package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps adapter kinds (Profile.Provider) to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]HandleFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]HandleFactory)}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f HandleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

// Lookup returns the factory for kind.
func (r *Registry) Lookup(kind string) (HandleFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(kind)]
	return f, ok
}

// Kinds returns the registered adapter kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build dispatches to the registered factory for p.Provider. It satisfies
// HandleFactory so a Registry can back a Pool directly.
func (r *Registry) Build(p Profile, model, token string) (Provider, error) {
	f, ok := r.Lookup(p.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, p.Provider)
	}
	return f(p, model, token)
}
