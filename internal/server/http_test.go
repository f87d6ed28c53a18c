package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evalx/searcheval/internal/adaptive"
	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/embedder"
	"github.com/evalx/searcheval/internal/guardrails"
	"github.com/evalx/searcheval/internal/orchestrator"
	"github.com/evalx/searcheval/internal/pipeline"
	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
)

// identityReranker keeps the incoming order.
type identityReranker struct{}

func (r *identityReranker) Rerank(_ context.Context, req *reranker.Request) (*reranker.Response, error) {
	order := make([]int, len(req.DTokens))
	for i := range order {
		order[i] = i
	}
	return &reranker.Response{Order: order, Scores: make([]float64, len(order))}, nil
}

func newTestServer(t *testing.T) (*Server, *pipeline.Pipeline) {
	t.Helper()

	registry := provider.NewRegistry(provider.NewStatic("static", []provider.SearchResult{
		{Title: "Go concurrency patterns", URL: "https://a.com/1", Snippet: "Goroutines and channels enable concurrency in Go programs.", Provider: "static"},
		{Title: "Go channels in depth", URL: "https://a.com/2", Snippet: "Channels coordinate concurrency between goroutines in Go.", Provider: "static"},
	}))
	emb := embedder.NewHashEmbedder(8)
	rr := &identityReranker{}
	judges := cascade.NewCascade(nil, cascade.NewHeuristicJudge())
	controller := adaptive.NewController(nil)
	guard := guardrails.NewManager(guardrails.Config{
		MaxQueryLength:    1000,
		MaxProviders:      10,
		MaxResultsPerCall: 100,
		MaxProcessingTime: 30 * time.Second,
	}, nil)

	orch := orchestrator.New(registry, emb, rr, judges, controller, guard, nil, nil, "", nil)
	pipe := pipeline.New(pipeline.Config{
		QueueSize:    10,
		TopK:         10,
		PollInterval: 5 * time.Millisecond,
	}, registry, emb, rr, judges, nil)

	s := New(Config{ResultTimeout: 5 * time.Second}, orch, pipe, nil, judges, guard, controller)
	return s, pipe
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	if rec := do(s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rec.Code)
	}
}

func TestHandleEvaluate_Success(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/v1/evaluations", `{"query":"go concurrency","providers":["static"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report orchestrator.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(report.Providers) != 1 {
		t.Errorf("expected one provider report, got %d", len(report.Providers))
	}
}

func TestHandleEvaluate_BlockedQuery(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/v1/evaluations", `{"query":"","providers":["static"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body["error"] != "blocked" {
		t.Errorf("expected blocked error code, got %s", body["error"])
	}
}

func TestHandleEvaluate_InvalidJSON(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/v1/evaluations", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitAndPoll(t *testing.T) {
	s, pipe := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe.Start(ctx)
	defer pipe.Stop()

	rec := do(s, http.MethodPost, "/v1/queries", `{"query":"go concurrency","providers":["static"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var accepted map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&accepted); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	id := accepted["query_id"]
	if id == "" {
		t.Fatal("expected a query_id")
	}

	poll := do(s, http.MethodGet, "/v1/queries/"+id+"?timeout=3s", "")
	if poll.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", poll.Code, poll.Body.String())
	}

	var result pipeline.QueryResult
	if err := json.NewDecoder(poll.Body).Decode(&result); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if result.QueryID != id {
		t.Errorf("expected query id %s, got %s", id, result.QueryID)
	}
}

func TestPoll_UnknownIDTimesOut(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/v1/queries/no-such-id?timeout=50ms", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	for _, key := range []string{"cascade", "guardrails", "pipeline", "budget_tier"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("expected %s in stats", key)
		}
	}
}
