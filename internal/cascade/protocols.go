package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/evalx/searcheval/internal/llm"
	"github.com/evalx/searcheval/internal/provider"
)

// PairwiseResult is the outcome of comparing two result sets for the same
// query.
type PairwiseResult struct {
	// Winner is "A", "B", or "tie".
	Winner string `json:"winner"`

	// Confidence is lowered when the model's answer flips under order swap.
	Confidence float64 `json:"confidence"`

	// SwapConsistent reports whether the verdict survived the order swap.
	SwapConsistent bool `json:"swap_consistent"`
}

// AttributionResult reports how well result snippets support the query terms.
type AttributionResult struct {
	// SupportScore is the fraction of query terms backed by at least one
	// snippet.
	SupportScore float64 `json:"support_score"`

	// UnsupportedTerms lists query terms no snippet mentions.
	UnsupportedTerms []string `json:"unsupported_terms,omitempty"`
}

// AgentJudgeResult is a composite rubric score from the agent-as-judge
// protocol.
type AgentJudgeResult struct {
	Relevance float64 `json:"relevance"`
	Coverage  float64 `json:"coverage"`
	Diversity float64 `json:"diversity"`
	Composite float64 `json:"composite"`
}

const pairwiseSystemPrompt = `You compare two sets of search results for the same query. Answer with exactly one line:
WINNER: <A|B|tie>`

const agentJudgeSystemPrompt = `You are a search quality rater. Score the result set on three dimensions, each 0.0-1.0. Respond with exactly three lines:
RELEVANCE: <0.0-1.0>
COVERAGE: <0.0-1.0>
DIVERSITY: <0.0-1.0>`

// Pairwise compares result sets A and B with an LLM, asking twice with the
// presentation order swapped to control for position bias. A verdict that
// flips under the swap is reported as a low-confidence tie.
func Pairwise(ctx context.Context, client llm.LLM, model, query string, a, b []provider.SearchResult) (PairwiseResult, error) {
	first, err := askPairwise(ctx, client, model, query, a, b)
	if err != nil {
		return PairwiseResult{}, err
	}
	second, err := askPairwise(ctx, client, model, query, b, a)
	if err != nil {
		return PairwiseResult{}, err
	}
	// The second ask saw the sets swapped, so map its answer back.
	second = swapVerdict(second)

	if first != second {
		return PairwiseResult{Winner: "tie", Confidence: 0.3, SwapConsistent: false}, nil
	}
	conf := 0.9
	if first == "tie" {
		conf = 0.6
	}
	return PairwiseResult{Winner: first, Confidence: conf, SwapConsistent: true}, nil
}

func askPairwise(ctx context.Context, client llm.LLM, model, query string, a, b []provider.SearchResult) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nSet A:\n", query)
	writeResultList(&sb, a)
	sb.WriteString("\nSet B:\n")
	writeResultList(&sb, b)

	raw, err := client.Generate(ctx, sb.String(), llm.GenerateOptions{
		Model:        model,
		SystemPrompt: pairwiseSystemPrompt,
		Temperature:  0.1,
		MaxTokens:    20,
	})
	if err != nil {
		return "", fmt.Errorf("pairwise comparison failed: %w", err)
	}
	return parseWinner(raw), nil
}

func writeResultList(sb *strings.Builder, results []provider.SearchResult) {
	n := len(results)
	if n > maxResultsInPrompt {
		n = maxResultsInPrompt
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(sb, "%d. %s\n   %s\n", i+1, results[i].Title, results[i].Snippet)
	}
	if n == 0 {
		sb.WriteString("(no results)\n")
	}
}

func parseWinner(raw string) string {
	upper := strings.ToUpper(raw)
	idx := strings.Index(upper, "WINNER:")
	if idx >= 0 {
		upper = upper[idx+len("WINNER:"):]
	}
	upper = strings.TrimSpace(upper)
	switch {
	case strings.HasPrefix(upper, "A"):
		return "A"
	case strings.HasPrefix(upper, "B"):
		return "B"
	default:
		return "tie"
	}
}

func swapVerdict(v string) string {
	switch v {
	case "A":
		return "B"
	case "B":
		return "A"
	default:
		return v
	}
}

// Attribution checks, without any model call, whether the returned snippets
// actually mention the query's terms. A result set can score high on
// relevance while leaving key terms unsupported; this surfaces that.
func Attribution(query string, results []provider.SearchResult) AttributionResult {
	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		return AttributionResult{SupportScore: 0}
	}

	combined := make(map[string]struct{})
	for _, r := range results {
		for term := range termSet(r.Title + " " + r.Snippet) {
			combined[term] = struct{}{}
		}
	}

	var supported int
	var unsupported []string
	for term := range queryTerms {
		if _, ok := combined[term]; ok {
			supported++
		} else {
			unsupported = append(unsupported, term)
		}
	}
	return AttributionResult{
		SupportScore:     float64(supported) / float64(len(queryTerms)),
		UnsupportedTerms: unsupported,
	}
}

// PointwiseResult carries per-position relevance for the top k results.
type PointwiseResult struct {
	// Scores holds one relevance score per position, best-first.
	Scores []float64 `json:"scores"`

	// RelevanceAtK is the mean of Scores.
	RelevanceAtK float64 `json:"relevance_at_k"`

	K int `json:"k"`
}

// Pointwise scores each of the top k results independently and averages
// them, so a single strong hit cannot mask a weak tail the way a whole-set
// judgment can.
func Pointwise(ctx context.Context, client llm.LLM, model, query string, results []provider.SearchResult, k int) (PointwiseResult, error) {
	if k <= 0 || k > len(results) {
		k = len(results)
	}
	if k == 0 {
		return PointwiseResult{}, nil
	}

	judge := NewLLMJudge(client, model)
	scores := make([]float64, 0, k)
	var sum float64
	for i := 0; i < k; i++ {
		res, err := judge.Evaluate(ctx, query, results[i:i+1])
		if err != nil {
			return PointwiseResult{}, fmt.Errorf("pointwise evaluation at position %d failed: %w", i, err)
		}
		scores = append(scores, res.RelevanceScore)
		sum += res.RelevanceScore
	}
	return PointwiseResult{
		Scores:       scores,
		RelevanceAtK: sum / float64(k),
		K:            k,
	}, nil
}

// AgentJudge runs the rubric-based protocol: the model scores relevance,
// coverage, and diversity separately and the composite is their mean.
func AgentJudge(ctx context.Context, client llm.LLM, model, query string, results []provider.SearchResult) (AgentJudgeResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nResults:\n", query)
	writeResultList(&sb, results)

	raw, err := client.Generate(ctx, sb.String(), llm.GenerateOptions{
		Model:        model,
		SystemPrompt: agentJudgeSystemPrompt,
		Temperature:  0.1,
		MaxTokens:    100,
	})
	if err != nil {
		return AgentJudgeResult{}, fmt.Errorf("agent judge failed: %w", err)
	}

	out := AgentJudgeResult{Relevance: 0.5, Coverage: 0.5, Diversity: 0.5}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RELEVANCE:"):
			if v, err := parseScore(line); err == nil {
				out.Relevance = clamp01(v)
			}
		case strings.HasPrefix(upper, "COVERAGE:"):
			if v, err := parseScore(line); err == nil {
				out.Coverage = clamp01(v)
			}
		case strings.HasPrefix(upper, "DIVERSITY:"):
			if v, err := parseScore(line); err == nil {
				out.Diversity = clamp01(v)
			}
		}
	}
	out.Composite = (out.Relevance + out.Coverage + out.Diversity) / 3
	return out, nil
}
