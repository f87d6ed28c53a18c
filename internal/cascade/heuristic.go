package cascade

import (
	"context"
	"math"
	"strings"

	"github.com/evalx/searcheval/internal/provider"
)

const (
	titleWeight   = 0.6
	snippetWeight = 0.4

	titlePhraseBonus   = 0.2
	snippetPhraseBonus = 0.1

	shortContentPenalty = 0.1
	spamPenalty         = 0.2

	minSnippetLength = 40
)

// spamMarkers flag low-quality result text.
var spamMarkers = []string{
	"buy now", "click here", "limited offer", "100% free",
	"!!!", "act now", "winner",
}

// HeuristicJudge scores results by lexical overlap with the query. It is
// cheap and deterministic, so it always runs first in the cascade.
type HeuristicJudge struct{}

// NewHeuristicJudge creates the lexical judge.
func NewHeuristicJudge() *HeuristicJudge {
	return &HeuristicJudge{}
}

// Name returns "heuristic".
func (j *HeuristicJudge) Name() string { return JudgeTypeHeuristic }

// Evaluate scores each result by weighted term overlap, then aggregates:
// relevance is the mean per-result score and confidence is one minus the
// score variance, boosted when at least one result is clearly strong.
func (j *HeuristicJudge) Evaluate(_ context.Context, query string, results []provider.SearchResult) (Result, error) {
	if len(results) == 0 {
		return Result{
			RelevanceScore: 0,
			Confidence:     1,
			JudgeType:      JudgeTypeHeuristic,
			Metadata:       map[string]any{"results": 0},
		}, nil
	}

	queryTerms := termSet(query)
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = scoreResult(query, queryTerms, r)
	}

	var sum float64
	maxScore := 0.0
	for _, s := range scores {
		sum += s
		if s > maxScore {
			maxScore = s
		}
	}
	mean := sum / float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	confidence := 1 - variance
	if maxScore > 0.8 {
		confidence += 0.2
	}

	return Result{
		RelevanceScore: clamp01(mean),
		Confidence:     clamp01(confidence),
		JudgeType:      JudgeTypeHeuristic,
		Metadata: map[string]any{
			"results":   len(results),
			"max_score": maxScore,
			"variance":  variance,
		},
	}, nil
}

// scoreResult computes the per-result lexical score.
func scoreResult(query string, queryTerms map[string]struct{}, r provider.SearchResult) float64 {
	score := overlap(queryTerms, r.Title)*titleWeight +
		overlap(queryTerms, r.Snippet)*snippetWeight

	phrase := strings.ToLower(strings.TrimSpace(query))
	if phrase != "" {
		if strings.Contains(strings.ToLower(r.Title), phrase) {
			score += titlePhraseBonus
		}
		if strings.Contains(strings.ToLower(r.Snippet), phrase) {
			score += snippetPhraseBonus
		}
	}

	if len(r.Snippet) < minSnippetLength {
		score -= shortContentPenalty
	}
	lower := strings.ToLower(r.Title + " " + r.Snippet)
	for _, marker := range spamMarkers {
		if strings.Contains(lower, marker) {
			score -= spamPenalty
			break
		}
	}

	return clamp01(score)
}

// overlap returns the fraction of query terms present in text.
func overlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	textTerms := termSet(text)
	var hits int
	for term := range queryTerms {
		if _, ok := textTerms[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var _ Judge = (*HeuristicJudge)(nil)
