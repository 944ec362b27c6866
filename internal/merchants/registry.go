package merchants

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds at most one Provider instance per key. Registration happens
// once at process start; lookups dominate afterwards, so a RWMutex is enough.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds the provider under its key, overwriting any previous
// registration for the same key.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("merchants: cannot register nil provider")
	}
	key := strings.ToLower(strings.TrimSpace(p.Key()))
	if key == "" {
		return fmt.Errorf("merchants: provider key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[key] = p
	return nil
}

// Get returns the provider registered under key, or ErrNotFound.
func (r *Registry) Get(key string) (Provider, error) {
	needle := strings.ToLower(strings.TrimSpace(key))
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[needle]
	if !ok {
		return nil, fmt.Errorf("merchants: provider %q (have %v): %w", key, r.keysLocked(), ErrNotFound)
	}
	return p, nil
}

// Keys returns the sorted keys of all registered providers.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keysLocked()
}

func (r *Registry) keysLocked() []string {
	keys := make([]string, 0, len(r.providers))
	for key := range r.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
