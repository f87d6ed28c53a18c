// Package filtering prunes raw search results before the expensive stages:
// quality and relevance filters drop weak results, and a URL deduper removes
// the same page reached through different tracking links.
package filtering

import (
	"strings"

	"github.com/evalx/searcheval/internal/provider"
)

// Filter decides whether a single result survives.
type Filter interface {
	// Keep reports whether the result should be retained for the query.
	Keep(query string, result provider.SearchResult) bool
}

// QualityFilter drops results with too little content or spam markers.
type QualityFilter struct {
	MinSnippetLength int
	MaxTitleLength   int
}

// NewQualityFilter creates a quality filter with default bounds.
func NewQualityFilter() *QualityFilter {
	return &QualityFilter{MinSnippetLength: 20, MaxTitleLength: 200}
}

var spamPhrases = []string{
	"buy now", "click here", "limited offer", "100% free",
	"!!!", "act now",
}

// Keep rejects empty titles, short snippets, oversized titles, and spam.
func (f *QualityFilter) Keep(_ string, r provider.SearchResult) bool {
	if strings.TrimSpace(r.Title) == "" {
		return false
	}
	if len(r.Snippet) < f.MinSnippetLength {
		return false
	}
	if len(r.Title) > f.MaxTitleLength {
		return false
	}
	lower := strings.ToLower(r.Title + " " + r.Snippet)
	for _, phrase := range spamPhrases {
		if strings.Contains(lower, phrase) {
			return false
		}
	}
	return true
}

// RelevanceFilter drops results whose text shares too few terms with the
// query.
type RelevanceFilter struct {
	MinOverlap float64
}

// NewRelevanceFilter creates a relevance filter with the default 0.3 floor.
func NewRelevanceFilter() *RelevanceFilter {
	return &RelevanceFilter{MinOverlap: 0.3}
}

// Keep computes the fraction of query terms present in the result's title
// and snippet and rejects below the floor.
func (f *RelevanceFilter) Keep(query string, r provider.SearchResult) bool {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return true
	}
	resultTerms := terms(r.Title + " " + r.Snippet)
	var hits int
	for t := range queryTerms {
		if _, ok := resultTerms[t]; ok {
			hits++
		}
	}
	return float64(hits)/float64(len(queryTerms)) >= f.MinOverlap
}

func terms(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

var _ Filter = (*QualityFilter)(nil)
var _ Filter = (*RelevanceFilter)(nil)
