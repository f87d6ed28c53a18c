// Package provider defines the search provider capability and its
// implementations. Providers are external collaborators: each one wraps a
// remote search API behind a single Search method.
package provider

import (
	"context"
	"fmt"
	"sort"
)

// SearchResult is one hit returned by a provider.
type SearchResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Snippet  string `json:"snippet"`
	Provider string `json:"provider"`
}

// Provider is the search capability consumed by the pipeline.
type Provider interface {
	// Name returns the provider's registry name.
	Name() string

	// Search returns up to maxResults hits for the query.
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Registry resolves provider names to implementations.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// Known reports whether name is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
