package provider

import (
	"context"
	"fmt"
)

// Static serves deterministic results without any network access. It backs
// offline demos and the test suite.
type Static struct {
	name    string
	results []SearchResult
}

// NewStatic creates a provider named name returning the given fixed results.
// With no results configured it synthesizes deterministic placeholders per
// query.
func NewStatic(name string, results []SearchResult) *Static {
	return &Static{name: name, results: results}
}

// Name returns the configured provider name.
func (p *Static) Name() string { return p.name }

// Search returns the fixed result set truncated to maxResults, or
// deterministic synthetic results when none were configured.
func (p *Static) Search(_ context.Context, query string, maxResults int) ([]SearchResult, error) {
	if len(p.results) > 0 {
		n := min(maxResults, len(p.results))
		out := make([]SearchResult, n)
		copy(out, p.results[:n])
		return out, nil
	}

	n := min(maxResults, 10)
	out := make([]SearchResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SearchResult{
			Title:    fmt.Sprintf("Result %d for %q", i+1, query),
			URL:      fmt.Sprintf("https://example.com/%s/%d", p.name, i+1),
			Snippet:  fmt.Sprintf("Static result %d covering %s in enough detail to score.", i+1, query),
			Provider: p.name,
		})
	}
	return out, nil
}

var _ Provider = (*Static)(nil)
