package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// Registry resolves provider names to clients.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderClient
}

// NewRegistry registers the given providers under their own names.
func NewRegistry(ps ...domain.ProviderClient) *Registry {
	r := &Registry{providers: make(map[string]domain.ProviderClient, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p domain.ProviderClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named provider or an error wrapping domain.ErrUnknownProvider.
func (r *Registry) Get(name string) (domain.ProviderClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

// Resolve returns the providers for names in order, failing on the first unknown name.
func (r *Registry) Resolve(names []string) ([]domain.ProviderClient, error) {
	out := make([]domain.ProviderClient, 0, len(names))
	for _, n := range names {
		p, err := r.Get(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Names lists registered providers alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
