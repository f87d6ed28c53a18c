package adaptive

import (
	"log/slog"
	"time"
)

const (
	// retryElapsedFrac stops retries once this fraction of the time budget
	// is spent.
	retryElapsedFrac = 0.8

	// retryQualityFrac retries only when quality is well below the
	// threshold, not merely short of it.
	retryQualityFrac = 0.8
)

// OperatingPoint is the resolved configuration for one evaluation.
type OperatingPoint struct {
	Retrieval RetrievalTier `json:"retrieval_tier"`
	Budget    BudgetTier    `json:"budget_tier"`
	Params    TierParams    `json:"params"`
}

// Controller combines the query-driven retrieval tier with the
// feedback-driven budget tier into one operating point per evaluation.
type Controller struct {
	selector *TierSelector
	budget   *BudgetManager
	history  *History
	logger   *slog.Logger
}

// NewController wires the selector, budget manager, and history together.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		selector: NewTierSelector(),
		budget:   NewBudgetManager(logger),
		history:  NewHistory(0, 0),
		logger:   logger,
	}
}

// Plan resolves the operating point for a query. The combined parameters
// take the stricter side of both tiers.
func (c *Controller) Plan(query string, sctx SelectContext) OperatingPoint {
	retrieval := c.selector.Select(query, sctx)
	budget := c.budget.Current()
	return OperatingPoint{
		Retrieval: retrieval,
		Budget:    budget,
		Params:    Combine(retrievalParams[retrieval], budgetParams[budget]),
	}
}

// PointFor resolves the operating point for explicit tiers, used when
// retrying at a forced tier.
func (c *Controller) PointFor(retrieval RetrievalTier, budget BudgetTier) OperatingPoint {
	return OperatingPoint{
		Retrieval: retrieval,
		Budget:    budget,
		Params:    Combine(retrievalParams[retrieval], budgetParams[budget]),
	}
}

// Adapt records the outcome of an evaluation and lets the budget manager
// move at most one tier.
func (c *Controller) Adapt(point OperatingPoint, quality float64, latency time.Duration) {
	c.history.Add(Observation{
		Retrieval: point.Retrieval,
		Budget:    point.Budget,
		Quality:   quality,
		Latency:   latency,
		Timestamp: time.Now(),
	})
	c.budget.Observe(quality, latency)
}

// ShouldRetryHigher decides whether a disappointing evaluation is worth one
// more pass a single retrieval tier up. Retries never happen at the top
// tier, when quality already clears the threshold, or when most of the time
// budget is spent.
func (c *Controller) ShouldRetryHigher(point OperatingPoint, quality float64, elapsed time.Duration) bool {
	if point.Retrieval >= RetrievalPremium {
		return false
	}
	if quality >= point.Params.QualityThreshold {
		return false
	}
	if elapsed >= time.Duration(retryElapsedFrac*float64(point.Params.TimeBudget)) {
		return false
	}
	return quality < retryQualityFrac*point.Params.QualityThreshold
}

// RetryPoint returns the operating point exactly one retrieval tier above
// the given one, same budget tier.
func (c *Controller) RetryPoint(point OperatingPoint) OperatingPoint {
	next := point.Retrieval
	if next < RetrievalPremium {
		next++
	}
	return c.PointFor(next, point.Budget)
}

// History exposes the observation window for stats surfaces.
func (c *Controller) History() *History {
	return c.history
}

// BudgetTierNow returns the budget manager's current tier.
func (c *Controller) BudgetTierNow() BudgetTier {
	return c.budget.Current()
}
