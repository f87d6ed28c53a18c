// Package pipeline runs evaluations as a four-stage stream: search, embed,
// rerank, judge. Stages are connected by bounded queues that shed load
// instead of blocking, and each stage bounds its own concurrency with a
// semaphore.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evalx/searcheval/internal/cache"
	"github.com/evalx/searcheval/internal/cascade"
	"github.com/evalx/searcheval/internal/embedder"
	"github.com/evalx/searcheval/internal/provider"
	"github.com/evalx/searcheval/internal/reranker"
)

// ErrQueueFull is returned by Submit when the search queue sheds the task.
var ErrQueueFull = errors.New("pipeline queue full")

// ErrResultTimeout is returned by GetResult when the result does not arrive
// within the deadline.
var ErrResultTimeout = errors.New("result not ready")

// DefaultPollInterval is how often GetResult checks for a finished result.
const DefaultPollInterval = 100 * time.Millisecond

// SearchTask enters the pipeline at the search stage.
type SearchTask struct {
	QueryID    string
	Query      string
	Providers  []string
	MaxResults int
	Submitted  time.Time
}

// EmbedTask carries fetched results to the embed stage.
type EmbedTask struct {
	QueryID   string
	Query     string
	Results   []provider.SearchResult
	Submitted time.Time
}

// RerankTask carries token matrices to the rerank stage.
type RerankTask struct {
	QueryID   string
	Query     string
	Results   []provider.SearchResult
	QTokens   [][]float32
	DTokens   [][][]float32
	Submitted time.Time
}

// JudgeTask carries the ordered results to the judge stage.
type JudgeTask struct {
	QueryID   string
	Query     string
	Results   []provider.SearchResult
	Submitted time.Time
}

// QueryResult is the finished output of one streamed evaluation.
type QueryResult struct {
	QueryID     string                  `json:"query_id"`
	Query       string                  `json:"query"`
	Results     []provider.SearchResult `json:"results"`
	Evaluation  cascade.Result          `json:"evaluation"`
	CompletedAt time.Time               `json:"completed_at"`
	Elapsed     time.Duration           `json:"elapsed"`
}

// Config sets queue and concurrency bounds for the pipeline.
type Config struct {
	QueueSize         int
	SearchConcurrency int
	EmbedConcurrency  int
	RerankConcurrency int
	JudgeConcurrency  int

	// TopK and Prune shape the rerank request for streamed queries.
	TopK  int
	Prune reranker.PruneConfig

	PollInterval time.Duration
	Logger       *slog.Logger
}

// Stats aggregates queue counters and failure counts per stage.
type Stats struct {
	Search   QueueStats `json:"search"`
	Embed    QueueStats `json:"embed"`
	Rerank   QueueStats `json:"rerank"`
	Judge    QueueStats `json:"judge"`
	Failures int64      `json:"failures"`
	Pending  int        `json:"pending_results"`
}

// Pipeline owns the stage queues, the worker loops, and the result map.
type Pipeline struct {
	cfg      Config
	registry *provider.Registry
	embed    embedder.Embedder
	rerank   reranker.Reranker
	judges   *cascade.Cascade
	cacheMgr *cache.Manager

	searchQ *Queue[SearchTask]
	embedQ  *Queue[EmbedTask]
	rerankQ *Queue[RerankTask]
	judgeQ  *Queue[JudgeTask]

	mu       sync.Mutex
	results  map[string]*QueryResult
	failures int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New wires a pipeline over the given components. cacheMgr may be nil to
// disable embedding caching.
func New(cfg Config, registry *provider.Registry, emb embedder.Embedder, rr reranker.Reranker, judges *cascade.Cascade, cacheMgr *cache.Manager) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}

	return &Pipeline{
		cfg:      cfg,
		registry: registry,
		embed:    emb,
		rerank:   rr,
		judges:   judges,
		cacheMgr: cacheMgr,
		searchQ:  NewQueue[SearchTask]("search", cfg.QueueSize, cfg.Logger),
		embedQ:   NewQueue[EmbedTask]("embed", cfg.QueueSize, cfg.Logger),
		rerankQ:  NewQueue[RerankTask]("rerank", cfg.QueueSize, cfg.Logger),
		judgeQ:   NewQueue[JudgeTask]("judge", cfg.QueueSize, cfg.Logger),
		results:  make(map[string]*QueryResult),
		logger:   cfg.Logger,
	}
}

// Start spawns one dispatcher goroutine per stage. Each dispatcher bounds
// its in-flight tasks with a semaphore channel.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.stageLoop(ctx, "search", p.cfg.SearchConcurrency, func(ctx context.Context) bool {
		task, ok := p.searchQ.Pop(ctx)
		if !ok {
			return false
		}
		p.runSearch(ctx, task)
		return true
	})
	p.stageLoop(ctx, "embed", p.cfg.EmbedConcurrency, func(ctx context.Context) bool {
		task, ok := p.embedQ.Pop(ctx)
		if !ok {
			return false
		}
		p.runEmbed(ctx, task)
		return true
	})
	p.stageLoop(ctx, "rerank", p.cfg.RerankConcurrency, func(ctx context.Context) bool {
		task, ok := p.rerankQ.Pop(ctx)
		if !ok {
			return false
		}
		p.runRerank(ctx, task)
		return true
	})
	p.stageLoop(ctx, "judge", p.cfg.JudgeConcurrency, func(ctx context.Context) bool {
		task, ok := p.judgeQ.Pop(ctx)
		if !ok {
			return false
		}
		p.runJudge(ctx, task)
		return true
	})
}

// stageLoop runs pop-and-process in bounded goroutines until ctx is done.
func (p *Pipeline) stageLoop(ctx context.Context, name string, concurrency int, step func(context.Context) bool) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		var inner sync.WaitGroup
		defer inner.Wait()
		for {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			inner.Add(1)
			go func() {
				defer inner.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						p.recordFailure()
						p.logger.Error("stage panic recovered", "stage", name, "panic", fmt.Sprint(r))
					}
				}()
				if !step(ctx) {
					return
				}
			}()
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop cancels the stage loops and waits for them to exit. Tasks still in
// queues are abandoned.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Submit enqueues a query and returns its ID. Fails fast when the search
// queue is full. A non-positive maxResults falls back to the rerank TopK.
func (p *Pipeline) Submit(query string, providers []string, maxResults int) (string, error) {
	if maxResults <= 0 {
		maxResults = p.cfg.TopK
	}
	id := uuid.New().String()
	task := SearchTask{
		QueryID:    id,
		Query:      query,
		Providers:  providers,
		MaxResults: maxResults,
		Submitted:  time.Now(),
	}
	if !p.searchQ.TryPush(task) {
		return "", ErrQueueFull
	}
	return id, nil
}

// GetResult polls for a finished result until the timeout elapses.
func (p *Pipeline) GetResult(ctx context.Context, queryID string, timeout time.Duration) (*QueryResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if res, ok := p.takeResult(queryID); ok {
			return res, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: query %s after %s", ErrResultTimeout, queryID, timeout)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PeekResult checks for a result without consuming it.
func (p *Pipeline) PeekResult(queryID string) (*QueryResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[queryID]
	return res, ok
}

func (p *Pipeline) takeResult(queryID string) (*QueryResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[queryID]
	if ok {
		delete(p.results, queryID)
	}
	return res, ok
}

func (p *Pipeline) storeResult(res *QueryResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[res.QueryID] = res
}

func (p *Pipeline) recordFailure() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}

// Stats returns queue counters and the failure count.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	failures := p.failures
	pending := len(p.results)
	p.mu.Unlock()
	return Stats{
		Search:   p.searchQ.Stats(),
		Embed:    p.embedQ.Stats(),
		Rerank:   p.rerankQ.Stats(),
		Judge:    p.judgeQ.Stats(),
		Failures: failures,
		Pending:  pending,
	}
}

func (p *Pipeline) runSearch(ctx context.Context, task SearchTask) {
	byProvider := provider.FanOut(ctx, p.registry, task.Providers, task.Query, task.MaxResults, p.logger)

	var results []provider.SearchResult
	for _, rs := range byProvider {
		results = append(results, rs...)
	}
	if len(results) == 0 {
		p.recordFailure()
		p.logger.Warn("search produced no results", "query_id", task.QueryID)
		p.storeResult(&QueryResult{
			QueryID:     task.QueryID,
			Query:       task.Query,
			Evaluation:  cascade.Result{RelevanceScore: 0, Confidence: 1, JudgeType: cascade.JudgeTypeDefault},
			CompletedAt: time.Now(),
			Elapsed:     time.Since(task.Submitted),
		})
		return
	}

	p.embedQ.TryPush(EmbedTask{
		QueryID:   task.QueryID,
		Query:     task.Query,
		Results:   results,
		Submitted: task.Submitted,
	})
}

func (p *Pipeline) runEmbed(ctx context.Context, task EmbedTask) {
	qTokens, err := p.embedCached(ctx, task.Query, p.embed.EmbedQueryTokens)
	if err != nil {
		p.recordFailure()
		p.logger.Warn("query embedding failed, skipping rerank", "query_id", task.QueryID, "error", err)
		p.judgeQ.TryPush(JudgeTask{QueryID: task.QueryID, Query: task.Query, Results: task.Results, Submitted: task.Submitted})
		return
	}

	dTokens := make([][][]float32, len(task.Results))
	for i, r := range task.Results {
		vecs, err := p.embedCached(ctx, r.Title+" "+r.Snippet, p.embed.EmbedDocumentTokens)
		if err != nil {
			p.logger.Debug("document embedding failed", "query_id", task.QueryID, "error", err)
			vecs = nil
		}
		dTokens[i] = vecs
	}

	p.rerankQ.TryPush(RerankTask{
		QueryID:   task.QueryID,
		Query:     task.Query,
		Results:   task.Results,
		QTokens:   qTokens,
		DTokens:   dTokens,
		Submitted: task.Submitted,
	})
}

// embedCached consults the embedding cache before calling through to the
// embedder.
func (p *Pipeline) embedCached(ctx context.Context, text string, embed func(context.Context, string) ([][]float32, error)) ([][]float32, error) {
	if p.cacheMgr != nil {
		if vecs, ok := p.cacheMgr.GetEmbeddings(text); ok {
			return vecs, nil
		}
	}
	vecs, err := embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if p.cacheMgr != nil {
		p.cacheMgr.PutEmbeddings(text, vecs)
	}
	return vecs, nil
}

func (p *Pipeline) runRerank(ctx context.Context, task RerankTask) {
	ordered := task.Results

	resp, err := p.rerank.Rerank(ctx, &reranker.Request{
		QTokens: task.QTokens,
		DTokens: task.DTokens,
		TopK:    p.cfg.TopK,
		Prune:   p.cfg.Prune,
	})
	if err != nil {
		// Rerank is best effort: keep the provider order.
		p.logger.Warn("rerank failed, keeping original order", "query_id", task.QueryID, "error", err)
	} else {
		ordered = reorder(task.Results, resp.Order)
	}
	if len(ordered) > p.cfg.TopK {
		ordered = ordered[:p.cfg.TopK]
	}

	p.judgeQ.TryPush(JudgeTask{
		QueryID:   task.QueryID,
		Query:     task.Query,
		Results:   ordered,
		Submitted: task.Submitted,
	})
}

func (p *Pipeline) runJudge(ctx context.Context, task JudgeTask) {
	eval, err := p.judges.Evaluate(ctx, task.Query, task.Results)
	if err != nil {
		p.recordFailure()
		p.logger.Error("judging failed", "query_id", task.QueryID, "error", err)
		eval = cascade.Result{RelevanceScore: 0.5, Confidence: 0, JudgeType: cascade.JudgeTypeDefault, Timestamp: time.Now()}
	}

	p.storeResult(&QueryResult{
		QueryID:     task.QueryID,
		Query:       task.Query,
		Results:     task.Results,
		Evaluation:  eval,
		CompletedAt: time.Now(),
		Elapsed:     time.Since(task.Submitted),
	})
}

// reorder applies the rerank service's index order, skipping out-of-range
// indices.
func reorder(results []provider.SearchResult, order []int) []provider.SearchResult {
	out := make([]provider.SearchResult, 0, len(order))
	for _, idx := range order {
		if idx >= 0 && idx < len(results) {
			out = append(out, results[idx])
		}
	}
	if len(out) == 0 {
		return results
	}
	return out
}
