// Package orchestrator runs one search-quality evaluation end to end:
// guardrails, tier planning, retrieval, filtering, embedding, reranking,
// judging, and adaptive feedback.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evalx/searcheval/internal/adaptive"
	"github.com/evalx/searcheval/internal/cache"
	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/embedder"
	"github.com/evalx/searcheval/internal/filtering"
	"github.com/evalx/searcheval/internal/guardrails"
	"github.com/evalx/searcheval/internal/llm"
	"github.com/evalx/searcheval/internal/netx"
	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
)

// Request is one evaluation request.
type Request struct {
	Query      string   `json:"query"`
	Providers  []string `json:"providers"`
	MaxResults int      `json:"max_results,omitempty"`

	// ClientID keys the rate limiter; empty falls back to a shared bucket.
	ClientID string `json:"-"`

	// Preference is an optional tier hint: "fast" or "thorough".
	Preference string `json:"preference,omitempty"`

	// Optional supplemental protocols.
	WithPairwise    bool `json:"with_pairwise,omitempty"`
	WithAttribution bool `json:"with_attribution,omitempty"`
	WithAgentJudge  bool `json:"with_agent_judge,omitempty"`
}

// StageTiming records wall-clock time spent per stage for one provider.
type StageTiming struct {
	Search time.Duration `json:"search"`
	Filter time.Duration `json:"filter"`
	Embed  time.Duration `json:"embed"`
	Rerank time.Duration `json:"rerank"`
	Judge  time.Duration `json:"judge"`
}

// ProviderReport is the evaluation outcome for one provider.
type ProviderReport struct {
	Provider    string                    `json:"provider"`
	TopResults  []provider.SearchResult   `json:"top_results"`
	Evaluation  cascade.Result            `json:"evaluation"`
	Attribution *cascade.AttributionResult `json:"attribution,omitempty"`
	AgentJudge  *cascade.AgentJudgeResult  `json:"agent_judge,omitempty"`
	Timing      StageTiming               `json:"timing"`
}

// Report is the full outcome of one evaluation request.
type Report struct {
	Query          string                   `json:"query"`
	OperatingPoint adaptive.OperatingPoint  `json:"operating_point"`
	Providers      []ProviderReport         `json:"providers"`
	Pairwise       *cascade.PairwiseResult  `json:"pairwise,omitempty"`
	Quality        float64                  `json:"quality"`
	Retried        bool                     `json:"retried"`
	Elapsed        time.Duration            `json:"elapsed"`
	Violations     []guardrails.Violation   `json:"violations,omitempty"`
}

// Orchestrator wires the evaluation components together.
type Orchestrator struct {
	registry   *provider.Registry
	embed      embedder.Embedder
	rerank     reranker.Reranker
	judges     *cascade.Cascade
	controller *adaptive.Controller
	guard      *guardrails.Manager
	cacheMgr   *cache.Manager
	filters    *filtering.Chain
	llmClient  llm.LLM
	llmModel   string
	logger     *slog.Logger
}

// New creates an orchestrator. cacheMgr and llmClient may be nil; caching
// and the LLM-backed protocols are then disabled.
func New(
	registry *provider.Registry,
	emb embedder.Embedder,
	rr reranker.Reranker,
	judges *cascade.Cascade,
	controller *adaptive.Controller,
	guard *guardrails.Manager,
	cacheMgr *cache.Manager,
	llmClient llm.LLM,
	llmModel string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:   registry,
		embed:      emb,
		rerank:     rr,
		judges:     judges,
		controller: controller,
		guard:      guard,
		cacheMgr:   cacheMgr,
		filters:    filtering.NewChain(),
		llmClient:  llmClient,
		llmModel:   llmModel,
		logger:     logger,
	}
}

// RunEvaluation executes the full flow for one request. Blocking guardrail
// violations, rate limiting, and an open breaker abort before any retrieval
// happens.
func (o *Orchestrator) RunEvaluation(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()

	violations := o.guard.ValidateInput(req.Query, req.Providers, req.MaxResults, o.registry.Known)
	if err := o.guard.Handle(violations); err != nil {
		return nil, err
	}
	if !o.guard.Allow(req.ClientID) {
		return nil, guardrails.ErrRateLimited
	}
	breaker := o.guard.Breaker()
	if !breaker.Allow() {
		return nil, netx.ErrBreakerOpen
	}

	point := o.controller.Plan(req.Query, adaptive.SelectContext{
		Preference: req.Preference,
		Remaining:  o.guard.Current().MaxProcessingTime,
	})

	report, err := o.evaluateAt(ctx, req, point)
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()

	elapsed := time.Since(start)
	o.controller.Adapt(point, report.Quality, elapsed)

	if o.controller.ShouldRetryHigher(point, report.Quality, elapsed) {
		retryPoint := o.controller.RetryPoint(point)
		o.logger.Info("retrying one tier up",
			"from", point.Retrieval.String(),
			"to", retryPoint.Retrieval.String(),
			"quality", report.Quality)

		retried, rerr := o.evaluateAt(ctx, req, retryPoint)
		if rerr == nil && retried.Quality > report.Quality {
			report = retried
			report.Retried = true
		}
		o.controller.Adapt(retryPoint, report.Quality, time.Since(start))
	}

	o.judges.AdaptThresholds()

	outViolations := o.guard.ValidateOutput(report.Quality, time.Since(start))
	if err := o.guard.Handle(outViolations); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(start)
	report.Violations = append(violations, outViolations...)
	return report, nil
}

// evaluateAt runs retrieval through judging at a fixed operating point.
func (o *Orchestrator) evaluateAt(ctx context.Context, req Request, point adaptive.OperatingPoint) (*Report, error) {
	params := point.Params

	ctx, cancel := context.WithTimeout(ctx, params.TimeBudget)
	defer cancel()

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > params.MaxResults {
		maxResults = params.MaxResults
	}

	reports := make([]ProviderReport, len(req.Providers))
	if params.EnableHedging {
		// Race providers concurrently to shave the tail.
		var wg sync.WaitGroup
		for i, name := range req.Providers {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				reports[i] = o.evaluateProvider(ctx, req, name, maxResults, params)
			}(i, name)
		}
		wg.Wait()
	} else {
		for i, name := range req.Providers {
			reports[i] = o.evaluateProvider(ctx, req, name, maxResults, params)
		}
	}

	report := &Report{
		Query:          req.Query,
		OperatingPoint: point,
		Providers:      reports,
		Quality:        meanRelevance(reports),
	}

	if req.WithPairwise && len(reports) >= 2 && o.llmClient != nil {
		pw, err := cascade.Pairwise(ctx, o.llmClient, o.llmModel, req.Query,
			reports[0].TopResults, reports[1].TopResults)
		if err != nil {
			o.logger.Warn("pairwise comparison failed", "error", err)
		} else {
			report.Pairwise = &pw
		}
	}

	return report, nil
}

// evaluateProvider runs the per-provider stages. Every stage failure
// degrades rather than aborts: missing results judge as empty, a rerank
// failure keeps the provider order.
func (o *Orchestrator) evaluateProvider(ctx context.Context, req Request, name string, maxResults int, params adaptive.TierParams) ProviderReport {
	rep := ProviderReport{Provider: name}

	stageStart := time.Now()
	results := o.search(ctx, req.Query, name, maxResults, params.EnableCaching)
	rep.Timing.Search = time.Since(stageStart)

	if params.EnableFiltering {
		stageStart = time.Now()
		results = o.filters.Apply(req.Query, results, maxResults)
		rep.Timing.Filter = time.Since(stageStart)
	}

	ordered := o.rerankResults(ctx, req.Query, name, results, params, &rep.Timing)

	stageStart = time.Now()
	eval, err := o.judges.Evaluate(ctx, req.Query, ordered)
	rep.Timing.Judge = time.Since(stageStart)
	if err != nil {
		o.logger.Error("judging failed", "provider", name, "error", err)
		eval = cascade.Result{RelevanceScore: 0.5, Confidence: 0, JudgeType: cascade.JudgeTypeDefault, Timestamp: time.Now()}
	}

	rep.TopResults = ordered
	rep.Evaluation = eval

	if req.WithAttribution {
		attr := cascade.Attribution(req.Query, ordered)
		rep.Attribution = &attr
	}
	if req.WithAgentJudge && o.llmClient != nil {
		aj, err := cascade.AgentJudge(ctx, o.llmClient, o.llmModel, req.Query, ordered)
		if err != nil {
			o.logger.Warn("agent judge failed", "provider", name, "error", err)
		} else {
			rep.AgentJudge = &aj
		}
	}

	return rep
}

// search fetches results for one provider, consulting the cache first when
// the tier allows it.
func (o *Orchestrator) search(ctx context.Context, query, name string, maxResults int, useCache bool) []provider.SearchResult {
	if useCache && o.cacheMgr != nil {
		if cached, ok := o.cacheMgr.GetSearchResults(query, name); ok {
			return cached
		}
	}

	p, err := o.registry.Lookup(name)
	if err != nil {
		o.logger.Warn("provider lookup failed", "provider", name, "error", err)
		return nil
	}
	results, err := p.Search(ctx, query, maxResults)
	if err != nil {
		o.logger.Warn("provider search failed", "provider", name, "error", err)
		return nil
	}

	if useCache && o.cacheMgr != nil {
		o.cacheMgr.PutSearchResults(query, name, results)
	}
	return results
}

// rerankResults embeds the query and documents and asks the rerank service
// for an ordering, falling back to the provider order truncated to topk.
// Embed and rerank durations are recorded on timing separately.
func (o *Orchestrator) rerankResults(ctx context.Context, query, name string, results []provider.SearchResult, params adaptive.TierParams, timing *StageTiming) []provider.SearchResult {
	topk := params.RerankTopK
	fallback := results
	if len(fallback) > topk {
		fallback = fallback[:topk]
	}
	if len(results) == 0 {
		return nil
	}

	if params.EnableCaching && o.cacheMgr != nil {
		lookupStart := time.Now()
		if resp, ok := o.cacheMgr.GetRerank(query, name); ok {
			timing.Rerank = time.Since(lookupStart)
			return applyOrder(results, resp.Order, topk)
		}
	}

	embedStart := time.Now()
	qTokens, err := o.embed.EmbedQueryTokens(ctx, query)
	if err != nil {
		timing.Embed = time.Since(embedStart)
		o.logger.Warn("query embedding failed", "error", err)
		return fallback
	}
	dTokens := make([][][]float32, len(results))
	for i, r := range results {
		vecs, err := o.embedDocCached(ctx, r.Title+" "+r.Snippet)
		if err != nil {
			o.logger.Debug("document embedding failed", "error", err)
		}
		dTokens[i] = vecs
	}
	timing.Embed = time.Since(embedStart)

	rerankStart := time.Now()
	resp, err := o.rerank.Rerank(ctx, &reranker.Request{
		QTokens: qTokens,
		DTokens: dTokens,
		TopK:    topk,
		Prune:   params.Prune,
	})
	timing.Rerank = time.Since(rerankStart)
	if err != nil {
		o.logger.Warn("rerank failed, keeping provider order", "provider", name, "error", err)
		return fallback
	}

	if params.EnableCaching && o.cacheMgr != nil {
		o.cacheMgr.PutRerank(query, name, resp)
	}
	return applyOrder(results, resp.Order, topk)
}

func (o *Orchestrator) embedDocCached(ctx context.Context, text string) ([][]float32, error) {
	if o.cacheMgr != nil {
		if vecs, ok := o.cacheMgr.GetEmbeddings(text); ok {
			return vecs, nil
		}
	}
	vecs, err := o.embed.EmbedDocumentTokens(ctx, text)
	if err != nil {
		return nil, err
	}
	if o.cacheMgr != nil {
		o.cacheMgr.PutEmbeddings(text, vecs)
	}
	return vecs, nil
}

// applyOrder reorders results by the service's indices and truncates.
func applyOrder(results []provider.SearchResult, order []int, topk int) []provider.SearchResult {
	out := make([]provider.SearchResult, 0, len(order))
	for _, idx := range order {
		if idx >= 0 && idx < len(results) {
			out = append(out, results[idx])
		}
	}
	if len(out) == 0 {
		out = results
	}
	if len(out) > topk {
		out = out[:topk]
	}
	return out
}

func meanRelevance(reports []ProviderReport) float64 {
	if len(reports) == 0 {
		return 0
	}
	var sum float64
	for _, r := range reports {
		sum += r.Evaluation.RelevanceScore
	}
	return sum / float64(len(reports))
}
