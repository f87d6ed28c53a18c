package cascade

import (
	"context"
	"testing"

	"github.com/evalx/searcheval/internal/llm"
	"github.com/evalx/searcheval/internal/provider"
)

func TestPairwise_ConsistentVerdict(t *testing.T) {
	// The stub always answers A, so the swapped ask maps back to B and the
	// verdicts disagree, yielding a tie. A verdict that tracks the actual
	// sets needs an order-aware stub.
	orderAware := &orderAwareLLM{preferFirst: true}
	res, err := Pairwise(context.Background(), orderAware, "m", "q", someResults(), nil)
	if err != nil {
		t.Fatalf("pairwise failed: %v", err)
	}
	// Preferring whatever is presented first flips under the swap.
	if res.SwapConsistent {
		t.Error("expected position-biased verdict to be flagged inconsistent")
	}
	if res.Winner != "tie" {
		t.Errorf("expected tie for inconsistent verdicts, got %s", res.Winner)
	}
}

// orderAwareLLM always prefers the first presented set, simulating position
// bias.
type orderAwareLLM struct {
	preferFirst bool
}

func (s *orderAwareLLM) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	if s.preferFirst {
		return "WINNER: A", nil
	}
	return "WINNER: B", nil
}

func TestPairwise_StableWinner(t *testing.T) {
	// Always answering tie is swap-consistent.
	client := &stubLLM{response: "WINNER: tie"}
	res, err := Pairwise(context.Background(), client, "m", "q", someResults(), someResults())
	if err != nil {
		t.Fatalf("pairwise failed: %v", err)
	}
	if !res.SwapConsistent {
		t.Error("expected consistent verdict")
	}
	if res.Winner != "tie" {
		t.Errorf("expected tie, got %s", res.Winner)
	}
}

func TestAttribution_SupportScore(t *testing.T) {
	results := []provider.SearchResult{
		{Title: "Go channels", Snippet: "Channels connect goroutines."},
	}

	res := Attribution("go channels select", results)
	// "go" and "channels" are supported, "select" is not.
	want := 2.0 / 3.0
	if res.SupportScore < want-0.01 || res.SupportScore > want+0.01 {
		t.Errorf("expected support ~%f, got %f", want, res.SupportScore)
	}
	if len(res.UnsupportedTerms) != 1 || res.UnsupportedTerms[0] != "select" {
		t.Errorf("expected [select] unsupported, got %v", res.UnsupportedTerms)
	}
}

func TestAttribution_EmptyQuery(t *testing.T) {
	res := Attribution("", someResults())
	if res.SupportScore != 0 {
		t.Errorf("expected zero support for empty query, got %f", res.SupportScore)
	}
}

func TestPointwise_MeanOfPerResultScores(t *testing.T) {
	client := &stubLLM{response: "RELEVANCE: 0.8\nCONFIDENCE: 0.9\nEXPLANATION: ok"}

	results := []provider.SearchResult{
		{Title: "Go testing", Snippet: "How to test Go programs with the testing package."},
		{Title: "Go benchmarks", Snippet: "Writing benchmarks alongside tests in Go."},
		{Title: "Go fuzzing", Snippet: "Fuzz targets complement unit tests."},
	}

	res, err := Pointwise(context.Background(), client, "m", "q", results, 2)
	if err != nil {
		t.Fatalf("pointwise failed: %v", err)
	}
	if res.K != 2 {
		t.Errorf("expected k=2, got %d", res.K)
	}
	if len(res.Scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(res.Scores))
	}
	if res.RelevanceAtK != 0.8 {
		t.Errorf("expected mean 0.8, got %f", res.RelevanceAtK)
	}
}

func TestPointwise_EmptyResults(t *testing.T) {
	client := &stubLLM{response: "RELEVANCE: 0.8\nCONFIDENCE: 0.9\nEXPLANATION: ok"}

	res, err := Pointwise(context.Background(), client, "m", "q", nil, 5)
	if err != nil {
		t.Fatalf("pointwise failed: %v", err)
	}
	if res.K != 0 || len(res.Scores) != 0 {
		t.Errorf("expected empty outcome, got %+v", res)
	}
}

func TestAgentJudge_CompositeIsMean(t *testing.T) {
	client := &stubLLM{response: "RELEVANCE: 0.9\nCOVERAGE: 0.6\nDIVERSITY: 0.3"}

	res, err := AgentJudge(context.Background(), client, "m", "q", someResults())
	if err != nil {
		t.Fatalf("agent judge failed: %v", err)
	}
	want := (0.9 + 0.6 + 0.3) / 3
	if res.Composite < want-0.001 || res.Composite > want+0.001 {
		t.Errorf("expected composite %f, got %f", want, res.Composite)
	}
}

func TestAgentJudge_MissingLinesDefaultNeutral(t *testing.T) {
	client := &stubLLM{response: "RELEVANCE: 0.8"}

	res, err := AgentJudge(context.Background(), client, "m", "q", someResults())
	if err != nil {
		t.Fatalf("agent judge failed: %v", err)
	}
	if res.Coverage != 0.5 || res.Diversity != 0.5 {
		t.Errorf("expected neutral defaults, got %f/%f", res.Coverage, res.Diversity)
	}
}
