package provider

import (
	"fmt"
	"sync"
)

// HandleFactory builds a Provider for a resolved profile and model.
type HandleFactory func(p Profile, model, token string) (Provider, error)

type poolKey struct {
	profile string
	model   string
	token   string
}

// Pool lazily creates Providers per (profile, model, credential) and caches
// them for reuse. A rotated credential yields a fresh entry.
type Pool struct {
	factory HandleFactory
	cache   map[poolKey]Provider
	mu      sync.RWMutex
}

// NewPool creates a new Provider pool with the given factory function.
func NewPool(factory HandleFactory) *Pool {
	return &Pool{
		factory: factory,
		cache:   make(map[poolKey]Provider),
	}
}

// Get retrieves or creates the Provider for the given profile and model.
func (p *Pool) Get(profile Profile, model, token string) (Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	key := poolKey{profile: profile.ID, model: model, token: token}

	p.mu.RLock()
	if prov, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return prov, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if prov, ok := p.cache[key]; ok {
		return prov, nil
	}

	prov, err := p.factory(profile, model, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider for %s/%s: %w", profile.ID, model, err)
	}

	p.cache[key] = prov
	return prov, nil
}

// Clear removes all cached providers. Called when profiles change.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[poolKey]Provider)
}
