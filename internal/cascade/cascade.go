// Package cascade implements tiered relevance judging. Cheap heuristic
// judges run first and their verdicts are accepted only when confident
// enough; otherwise evaluation falls through to more expensive judges.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evalx/searcheval/internal/provider"
)

// ErrNoJudges is returned when Evaluate is called on a cascade with no
// registered judges.
var ErrNoJudges = errors.New("no judges registered")

const (
	// JudgeTypeHeuristic marks results produced by lexical heuristics.
	JudgeTypeHeuristic = "heuristic"

	// JudgeTypeLLM marks results produced by an LLM judge.
	JudgeTypeLLM = "llm"

	// JudgeTypeDefault marks the fallback result when every judge declined
	// or failed.
	JudgeTypeDefault = "default"
)

const (
	defaultHighConfidence = 0.8
	lowConfidence         = 0.3
	qualityFloor          = 0.6

	thresholdStep = 0.05
	thresholdMin  = 0.6
	thresholdMax  = 0.9

	minEvaluationsToAdapt = 10
	adaptWindow           = 20
	minHeuristicSamples   = 5
)

// Result is the verdict of a judge over one query's result set.
type Result struct {
	RelevanceScore float64        `json:"relevance_score"`
	Confidence     float64        `json:"confidence"`
	JudgeType      string         `json:"judge_type"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Judge evaluates how relevant a set of search results is to a query.
type Judge interface {
	// Name identifies the judge in stats and logs.
	Name() string

	// Evaluate scores the results for the query. RelevanceScore and
	// Confidence are both in [0, 1].
	Evaluate(ctx context.Context, query string, results []provider.SearchResult) (Result, error)
}

// judgeStats tracks per-judge call outcomes.
type judgeStats struct {
	Calls    int64 `json:"calls"`
	Accepted int64 `json:"accepted"`
	Failures int64 `json:"failures"`
}

// Stats is a snapshot of cascade behavior.
type Stats struct {
	Evaluations   int64                 `json:"evaluations"`
	Defaults      int64                 `json:"defaults"`
	HighThreshold float64               `json:"high_threshold"`
	Judges        map[string]judgeStats `json:"judges"`
}

// Cascade runs judges in registration order until one verdict is accepted.
type Cascade struct {
	mu            sync.Mutex
	judges        []Judge
	highThreshold float64
	evaluations   int64
	defaults      int64
	perJudge      map[string]*judgeStats
	history       []Result
	logger        *slog.Logger
}

// NewCascade creates a cascade over the given judges. Judges run in the
// order given; put the cheapest first.
func NewCascade(logger *slog.Logger, judges ...Judge) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{
		judges:        judges,
		highThreshold: defaultHighConfidence,
		perJudge:      make(map[string]*judgeStats),
		logger:        logger,
	}
}

// Evaluate runs the cascade for one query. Heuristic verdicts are accepted
// only when confidence clears the high threshold, or when confidence is at
// least moderate and the relevance itself clears the quality floor. Verdicts
// from non-heuristic judges are accepted whenever the judge succeeds. If
// every judge declines or fails, a neutral default is returned.
func (c *Cascade) Evaluate(ctx context.Context, query string, results []provider.SearchResult) (Result, error) {
	if len(c.judges) == 0 {
		return Result{}, ErrNoJudges
	}

	c.mu.Lock()
	c.evaluations++
	high := c.highThreshold
	c.mu.Unlock()

	for _, judge := range c.judges {
		start := time.Now()
		res, err := judge.Evaluate(ctx, query, results)
		elapsed := time.Since(start)

		c.mu.Lock()
		stats := c.statsFor(judge.Name())
		stats.Calls++
		c.mu.Unlock()

		if err != nil {
			c.mu.Lock()
			stats.Failures++
			c.mu.Unlock()
			c.logger.Warn("judge failed, falling through",
				"judge", judge.Name(),
				"error", err)
			continue
		}

		res.ProcessingTime = elapsed
		res.Timestamp = time.Now()

		if res.JudgeType == JudgeTypeHeuristic && !acceptHeuristic(res, high) {
			c.record(res)
			c.logger.Debug("heuristic verdict declined",
				"confidence", res.Confidence,
				"relevance", res.RelevanceScore,
				"threshold", high)
			continue
		}

		c.mu.Lock()
		stats.Accepted++
		c.mu.Unlock()
		c.record(res)
		return res, nil
	}

	c.mu.Lock()
	c.defaults++
	c.mu.Unlock()

	def := Result{
		RelevanceScore: 0.5,
		Confidence:     0,
		JudgeType:      JudgeTypeDefault,
		Timestamp:      time.Now(),
	}
	c.record(def)
	return def, nil
}

// acceptHeuristic applies the two acceptance branches for heuristic verdicts.
func acceptHeuristic(res Result, high float64) bool {
	if res.Confidence >= high {
		return true
	}
	return res.Confidence > lowConfidence && res.Confidence < high &&
		res.RelevanceScore >= qualityFloor
}

// statsFor must be called with c.mu held.
func (c *Cascade) statsFor(name string) *judgeStats {
	s, ok := c.perJudge[name]
	if !ok {
		s = &judgeStats{}
		c.perJudge[name] = s
	}
	return s
}

// record appends to the shared performance history, bounded at twice the
// adaptation window.
func (c *Cascade) record(res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, res)
	if len(c.history) > 2*adaptWindow {
		c.history = c.history[len(c.history)-2*adaptWindow:]
	}
}

// AdaptThresholds nudges the high-confidence threshold based on recent
// heuristic behavior: a consistently confident heuristic earns a stricter
// bar, a shaky one gets a lower bar so more work reaches the LLM.
func (c *Cascade) AdaptThresholds() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evaluations < minEvaluationsToAdapt {
		return
	}

	window := c.history
	if len(window) > adaptWindow {
		window = window[len(window)-adaptWindow:]
	}

	var sum float64
	var n int
	for _, r := range window {
		if r.JudgeType == JudgeTypeHeuristic {
			sum += r.Confidence
			n++
		}
	}
	if n < minHeuristicSamples {
		return
	}

	mean := sum / float64(n)
	old := c.highThreshold
	switch {
	case mean > 0.7:
		c.highThreshold = min(c.highThreshold+thresholdStep, thresholdMax)
	case mean < 0.5:
		c.highThreshold = max(c.highThreshold-thresholdStep, thresholdMin)
	}
	if c.highThreshold != old {
		c.logger.Info("adapted heuristic confidence threshold",
			"old", fmt.Sprintf("%.2f", old),
			"new", fmt.Sprintf("%.2f", c.highThreshold),
			"mean_confidence", fmt.Sprintf("%.2f", mean))
	}
}

// HighThreshold returns the current acceptance threshold.
func (c *Cascade) HighThreshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highThreshold
}

// Stats returns a snapshot of cascade counters.
func (c *Cascade) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	judges := make(map[string]judgeStats, len(c.perJudge))
	for name, s := range c.perJudge {
		judges[name] = *s
	}
	return Stats{
		Evaluations:   c.evaluations,
		Defaults:      c.defaults,
		HighThreshold: c.highThreshold,
		Judges:        judges,
	}
}
