package provider

import (
	"fmt"
	"sync"
)

// Factory creates the Provider for a connection key.
type Factory func(key string) (Provider, error)

// Pool lazily creates Providers per connection key and reuses them.
type Pool struct {
	factory Factory
	cache   map[string]Provider
	mu      sync.RWMutex
}

// NewPool creates a pool backed by factory.
func NewPool(factory Factory) *Pool {
	return &Pool{factory: factory, cache: make(map[string]Provider)}
}

// Get returns the Provider for key, creating it on first use.
func (p *Pool) Get(key string) (Provider, error) {
	if key == "" {
		return nil, fmt.Errorf("provider key cannot be empty")
	}

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
	prov, err := p.factory(key)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", key, err)
	}
	p.cache[key] = prov
	return prov, nil
}

// Put registers a ready Provider under key, replacing any cached one.
func (p *Pool) Put(key string, prov Provider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[key] = prov
}

// Clear drops every cached Provider.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]Provider)
}

// Count returns the number of cached Providers.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}
