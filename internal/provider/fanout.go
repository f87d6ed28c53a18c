package provider

import (
	"context"
	"log/slog"
	"sync"
)

// FanOut searches multiple providers concurrently and returns a map of
// provider name to results. A single provider's failure yields an empty
// slice for that provider rather than failing the whole fan-out.
func FanOut(ctx context.Context, registry *Registry, names []string, query string, maxResults int, logger *slog.Logger) map[string][]SearchResult {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	out := make(map[string][]SearchResult, len(names))

	for _, name := range names {
		p, err := registry.Lookup(name)
		if err != nil {
			logger.Warn("skipping unknown provider", "provider", name)
			continue
		}

		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			results, err := p.Search(ctx, query, maxResults)
			if err != nil {
				logger.Warn("provider search failed", "provider", p.Name(), "error", err)
				results = nil
			}

			mu.Lock()
			out[p.Name()] = results
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return out
}
