package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/fathomdata/tidemark/errors"
)

// Registry dispatches collect requests to named collectors. It implements
// Collector itself, so it can sit behind the coordinator unchanged.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

// NewRegistry creates an empty collector registry
func NewRegistry() *Registry {
	return &Registry{collectors: make(map[string]Collector)}
}

// Register adds or replaces the collector for a provider name.
func (r *Registry) Register(name string, c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[name] = c
}

// Names returns registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collect routes the request to the collector registered for req.Provider.
// An unregistered provider is a collection failure, not a validation one:
// the request itself is well-formed, the environment lacks the capability.
func (r *Registry) Collect(ctx context.Context, req Request) ([]Record, error) {
	r.mu.RLock()
	c, ok := r.collectors[req.Provider]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Mark(
			errors.Newf("no collector registered for provider %q", req.Provider),
			errors.ErrCollection)
	}

	return c.Collect(ctx, req)
}
