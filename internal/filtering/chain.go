package filtering

import (
	"github.com/evalx/searcheval/internal/provider"
)

// Chain applies a sequence of filters and then dedups, capping the output.
type Chain struct {
	filters []Filter
	deduper *URLDeduper
}

// NewChain builds the default chain: quality filter, relevance filter,
// URL dedup.
func NewChain(filters ...Filter) *Chain {
	if len(filters) == 0 {
		filters = []Filter{NewQualityFilter(), NewRelevanceFilter()}
	}
	return &Chain{filters: filters, deduper: NewURLDeduper()}
}

// Apply runs every filter over the results, dedups survivors, and truncates
// to maxResults (0 means unlimited).
func (c *Chain) Apply(query string, results []provider.SearchResult, maxResults int) []provider.SearchResult {
	kept := make([]provider.SearchResult, 0, len(results))
	for _, r := range results {
		ok := true
		for _, f := range c.filters {
			if !f.Keep(query, r) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, r)
		}
	}
	kept = c.deduper.Dedup(kept)
	if maxResults > 0 && len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}
