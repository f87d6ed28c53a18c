package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/embedder"
	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
)

// reverseReranker orders documents back to front.
type reverseReranker struct{}

func (r *reverseReranker) Rerank(_ context.Context, req *reranker.Request) (*reranker.Response, error) {
	order := make([]int, len(req.DTokens))
	scores := make([]float64, len(req.DTokens))
	for i := range order {
		order[i] = len(req.DTokens) - 1 - i
		scores[i] = 1 - float64(i)*0.1
	}
	return &reranker.Response{Order: order, Scores: scores}, nil
}

// failingReranker always errors.
type failingReranker struct{}

func (r *failingReranker) Rerank(_ context.Context, _ *reranker.Request) (*reranker.Response, error) {
	return nil, errors.New("rerank service unavailable")
}

// emptyProvider returns no results for any query.
type emptyProvider struct{}

func (p *emptyProvider) Name() string { return "empty" }

func (p *emptyProvider) Search(_ context.Context, _ string, _ int) ([]provider.SearchResult, error) {
	return nil, nil
}

func fixedResults() []provider.SearchResult {
	return []provider.SearchResult{
		{Title: "Go concurrency patterns", URL: "https://a.com/1", Snippet: "Goroutines and channels enable concurrency in Go programs.", Provider: "static"},
		{Title: "Go channels explained", URL: "https://a.com/2", Snippet: "Channels are typed conduits between goroutines in Go.", Provider: "static"},
		{Title: "Go scheduler internals", URL: "https://a.com/3", Snippet: "The Go runtime multiplexes goroutines onto OS threads.", Provider: "static"},
	}
}

func newTestPipeline(t *testing.T, rr reranker.Reranker, providers ...provider.Provider) *Pipeline {
	t.Helper()
	if len(providers) == 0 {
		providers = []provider.Provider{provider.NewStatic("static", fixedResults())}
	}
	registry := provider.NewRegistry(providers...)
	judges := cascade.NewCascade(nil, cascade.NewHeuristicJudge())

	return New(Config{
		QueueSize:    10,
		TopK:         10,
		PollInterval: 5 * time.Millisecond,
	}, registry, embedder.NewHashEmbedder(8), rr, judges, nil)
}

func TestPipeline_EndToEnd(t *testing.T) {
	p := newTestPipeline(t, &reverseReranker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	id, err := p.Submit("go concurrency", []string{"static"}, 10)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	res, err := p.GetResult(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatalf("result not delivered: %v", err)
	}
	if res.QueryID != id {
		t.Errorf("expected query id %s, got %s", id, res.QueryID)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	// The reverse reranker puts the last provider result first.
	if res.Results[0].URL != "https://a.com/3" {
		t.Errorf("expected reranked order, got %s first", res.Results[0].URL)
	}
	if res.Evaluation.JudgeType != cascade.JudgeTypeHeuristic {
		t.Errorf("expected heuristic evaluation, got %s", res.Evaluation.JudgeType)
	}
	if res.Elapsed <= 0 {
		t.Error("expected positive elapsed time")
	}
}

func TestPipeline_ResultConsumedOnce(t *testing.T) {
	p := newTestPipeline(t, &reverseReranker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	id, err := p.Submit("go concurrency", []string{"static"}, 10)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := p.GetResult(ctx, id, 5*time.Second); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := p.GetResult(ctx, id, 50*time.Millisecond); !errors.Is(err, ErrResultTimeout) {
		t.Errorf("expected second fetch to time out, got %v", err)
	}
}

func TestPipeline_RerankFailureKeepsProviderOrder(t *testing.T) {
	p := newTestPipeline(t, &failingReranker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	id, err := p.Submit("go concurrency", []string{"static"}, 10)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	res, err := p.GetResult(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatalf("result not delivered: %v", err)
	}
	if res.Results[0].URL != "https://a.com/1" {
		t.Errorf("expected provider order preserved, got %s first", res.Results[0].URL)
	}
}

func TestPipeline_EmptySearchYieldsDefaultResult(t *testing.T) {
	p := newTestPipeline(t, &reverseReranker{}, &emptyProvider{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	id, err := p.Submit("anything", []string{"empty"}, 10)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	res, err := p.GetResult(ctx, id, 5*time.Second)
	if err != nil {
		t.Fatalf("result not delivered: %v", err)
	}
	if res.Evaluation.RelevanceScore != 0 || res.Evaluation.Confidence != 1 {
		t.Errorf("expected confident zero relevance, got %f/%f", res.Evaluation.RelevanceScore, res.Evaluation.Confidence)
	}
	if res.Evaluation.JudgeType != cascade.JudgeTypeDefault {
		t.Errorf("expected default judge type, got %s", res.Evaluation.JudgeType)
	}
}

func TestPipeline_NonPositiveMaxResultsClamped(t *testing.T) {
	p := newTestPipeline(t, &reverseReranker{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for _, maxResults := range []int{0, -1} {
		id, err := p.Submit("go concurrency", []string{"static"}, maxResults)
		if err != nil {
			t.Fatalf("submit with maxResults=%d failed: %v", maxResults, err)
		}

		res, err := p.GetResult(ctx, id, 5*time.Second)
		if err != nil {
			t.Fatalf("result not delivered for maxResults=%d: %v", maxResults, err)
		}
		if len(res.Results) == 0 {
			t.Errorf("expected results for maxResults=%d, got none", maxResults)
		}
	}
}

func TestPipeline_SubmitFailsFastWhenFull(t *testing.T) {
	registry := provider.NewRegistry(provider.NewStatic("static", fixedResults()))
	judges := cascade.NewCascade(nil, cascade.NewHeuristicJudge())
	p := New(Config{QueueSize: 1}, registry, embedder.NewHashEmbedder(8), &reverseReranker{}, judges, nil)
	// Not started: nothing drains the search queue.

	if _, err := p.Submit("first", []string{"static"}, 10); err != nil {
		t.Fatalf("expected first submit accepted: %v", err)
	}
	if _, err := p.Submit("second", []string{"static"}, 10); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	if p.Stats().Search.Dropped != 1 {
		t.Errorf("expected 1 dropped task, got %d", p.Stats().Search.Dropped)
	}
}

func TestPipeline_GetResultTimesOut(t *testing.T) {
	p := newTestPipeline(t, &reverseReranker{})

	_, err := p.GetResult(context.Background(), "no-such-id", 30*time.Millisecond)
	if !errors.Is(err, ErrResultTimeout) {
		t.Errorf("expected ErrResultTimeout, got %v", err)
	}
}
