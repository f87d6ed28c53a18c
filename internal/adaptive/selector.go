package adaptive

import (
	"strings"
	"time"
	"unicode"
)

// SelectContext carries caller hints into tier selection.
type SelectContext struct {
	// Preference is an optional caller hint: "fast" caps effort at the
	// basic tier, "thorough" requests the premium tier.
	Preference string

	// Remaining is how much wall-clock time the caller can still spend.
	// Zero means unconstrained.
	Remaining time.Duration
}

// TierSelector maps a query to a retrieval tier from its surface complexity.
type TierSelector struct{}

// NewTierSelector creates a selector.
func NewTierSelector() *TierSelector {
	return &TierSelector{}
}

var questionWords = []string{"how", "why", "what", "when", "where", "which", "who", "explain"}

var comparisonMarkers = []string{"vs", "versus", "difference", "compare", "better", "between"}

// Select scores the query's complexity and picks a tier. Caller preference
// wins over the complexity score; a tight remaining budget caps the result.
func (s *TierSelector) Select(query string, sctx SelectContext) RetrievalTier {
	tier := s.complexityTier(query)

	switch strings.ToLower(sctx.Preference) {
	case "fast":
		tier = RetrievalBasic
	case "thorough":
		tier = RetrievalPremium
	}

	// Never pick a tier whose budget the caller cannot afford.
	if sctx.Remaining > 0 {
		for tier > RetrievalBasic && retrievalParams[tier].TimeBudget > sctx.Remaining {
			tier--
		}
	}
	return tier
}

func (s *TierSelector) complexityTier(query string) RetrievalTier {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)

	var score int
	if len(tokens) > 8 {
		score++
	}
	if containsAny(tokens, questionWords) {
		score++
	}
	if containsAny(tokens, comparisonMarkers) {
		score++
	}
	if hasConjunction(tokens) {
		score++
	}
	if hasTechnicalTerms(tokens) {
		score++
	}
	if strings.ContainsRune(query, '"') || hasDigits(query) {
		score++
	}

	switch {
	case score >= 4:
		return RetrievalPremium
	case score >= 2:
		return RetrievalEnhanced
	default:
		return RetrievalBasic
	}
}

func containsAny(tokens []string, words []string) bool {
	for _, t := range tokens {
		for _, w := range words {
			if t == w {
				return true
			}
		}
	}
	return false
}

func hasConjunction(tokens []string) bool {
	return containsAny(tokens, []string{"and", "or", "not", "but"})
}

// hasTechnicalTerms uses long or punctuated tokens as a proxy for technical
// vocabulary.
func hasTechnicalTerms(tokens []string) bool {
	for _, t := range tokens {
		if len(t) >= 12 || strings.ContainsAny(t, "_./-") {
			return true
		}
	}
	return false
}

func hasDigits(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
