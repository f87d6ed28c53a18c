// Package adaptive picks and adjusts the operating point of an evaluation:
// how much to retrieve, how hard to rerank, and how much time to spend.
// Two independent dimensions are combined, a retrieval tier chosen from the
// query itself and a budget tier adapted from observed quality and latency.
package adaptive

import (
	"time"

	"github.com/evalx/searcheval/internal/reranker"
)

// RetrievalTier orders retrieval effort from cheapest to most thorough.
type RetrievalTier int

const (
	RetrievalBasic RetrievalTier = iota
	RetrievalEnhanced
	RetrievalPremium
)

// String returns the tier name.
func (t RetrievalTier) String() string {
	switch t {
	case RetrievalBasic:
		return "basic"
	case RetrievalEnhanced:
		return "enhanced"
	case RetrievalPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// BudgetTier orders time budgets from tightest to most generous.
type BudgetTier int

const (
	BudgetFast BudgetTier = iota
	BudgetBalanced
	BudgetThorough
)

// String returns the tier name.
func (t BudgetTier) String() string {
	switch t {
	case BudgetFast:
		return "fast"
	case BudgetBalanced:
		return "balanced"
	case BudgetThorough:
		return "thorough"
	default:
		return "unknown"
	}
}

// TierParams is the concrete operating point a tier resolves to.
type TierParams struct {
	MaxResults       int                  `json:"max_results"`
	RerankTopK       int                  `json:"rerank_topk"`
	Prune            reranker.PruneConfig `json:"prune"`
	QualityThreshold float64              `json:"quality_threshold"`
	EnableHedging    bool                 `json:"enable_hedging"`
	EnableCaching    bool                 `json:"enable_caching"`
	EnableFiltering  bool                 `json:"enable_filtering"`
	EnableStreaming  bool                 `json:"enable_streaming"`
	TimeBudget       time.Duration        `json:"time_budget"`
}

const pruneMethod = "idf_norm"

var retrievalParams = map[RetrievalTier]TierParams{
	RetrievalBasic: {
		MaxResults:       20,
		RerankTopK:       10,
		Prune:            reranker.PruneConfig{QMax: 8, DMax: 32, Method: pruneMethod},
		QualityThreshold: 0.6,
		EnableHedging:    false,
		EnableCaching:    true,
		EnableFiltering:  false,
		EnableStreaming:  false,
		TimeBudget:       2 * time.Second,
	},
	RetrievalEnhanced: {
		MaxResults:       50,
		RerankTopK:       20,
		Prune:            reranker.PruneConfig{QMax: 16, DMax: 64, Method: pruneMethod},
		QualityThreshold: 0.8,
		EnableHedging:    true,
		EnableCaching:    true,
		EnableFiltering:  true,
		EnableStreaming:  false,
		TimeBudget:       5 * time.Second,
	},
	RetrievalPremium: {
		MaxResults:       100,
		RerankTopK:       50,
		Prune:            reranker.PruneConfig{QMax: 32, DMax: 128, Method: pruneMethod},
		QualityThreshold: 0.9,
		EnableHedging:    true,
		EnableCaching:    true,
		EnableFiltering:  true,
		EnableStreaming:  true,
		TimeBudget:       10 * time.Second,
	},
}

var budgetParams = map[BudgetTier]TierParams{
	BudgetFast: {
		MaxResults:       20,
		RerankTopK:       10,
		Prune:            reranker.PruneConfig{QMax: 8, DMax: 32, Method: pruneMethod},
		QualityThreshold: 0.6,
		EnableHedging:    false,
		EnableCaching:    true,
		EnableFiltering:  true,
		EnableStreaming:  true,
		TimeBudget:       2 * time.Second,
	},
	BudgetBalanced: {
		MaxResults:       50,
		RerankTopK:       20,
		Prune:            reranker.PruneConfig{QMax: 16, DMax: 64, Method: pruneMethod},
		QualityThreshold: 0.8,
		EnableHedging:    true,
		EnableCaching:    true,
		EnableFiltering:  true,
		EnableStreaming:  true,
		TimeBudget:       5 * time.Second,
	},
	BudgetThorough: {
		MaxResults:       100,
		RerankTopK:       50,
		Prune:            reranker.PruneConfig{QMax: 32, DMax: 128, Method: pruneMethod},
		QualityThreshold: 0.9,
		EnableHedging:    true,
		EnableCaching:    true,
		EnableFiltering:  true,
		EnableStreaming:  true,
		TimeBudget:       10 * time.Second,
	},
}

// RetrievalTierParams returns the parameter table entry for a retrieval tier.
func RetrievalTierParams(t RetrievalTier) TierParams {
	return retrievalParams[t]
}

// BudgetTierParams returns the parameter table entry for a budget tier.
func BudgetTierParams(t BudgetTier) TierParams {
	return budgetParams[t]
}

// Combine merges two parameter sets by taking the stricter side of every
// knob: numeric limits take the minimum, feature flags require both.
func Combine(a, b TierParams) TierParams {
	return TierParams{
		MaxResults: minInt(a.MaxResults, b.MaxResults),
		RerankTopK: minInt(a.RerankTopK, b.RerankTopK),
		Prune: reranker.PruneConfig{
			QMax:   minInt(a.Prune.QMax, b.Prune.QMax),
			DMax:   minInt(a.Prune.DMax, b.Prune.DMax),
			Method: a.Prune.Method,
		},
		QualityThreshold: minFloat(a.QualityThreshold, b.QualityThreshold),
		EnableHedging:    a.EnableHedging && b.EnableHedging,
		EnableCaching:    a.EnableCaching && b.EnableCaching,
		EnableFiltering:  a.EnableFiltering && b.EnableFiltering,
		EnableStreaming:  a.EnableStreaming && b.EnableStreaming,
		TimeBudget:       minDuration(a.TimeBudget, b.TimeBudget),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
