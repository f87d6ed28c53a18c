package adaptive

import (
	"testing"
	"time"
)

func TestTierSelector_SimpleQueryIsBasic(t *testing.T) {
	s := NewTierSelector()

	if tier := s.Select("weather today", SelectContext{}); tier != RetrievalBasic {
		t.Errorf("expected basic tier, got %s", tier)
	}
}

func TestTierSelector_ComplexQueryClimbsTiers(t *testing.T) {
	s := NewTierSelector()

	enhanced := s.Select("how do goroutines and channels work", SelectContext{})
	if enhanced < RetrievalEnhanced {
		t.Errorf("expected at least enhanced, got %s", enhanced)
	}

	premium := s.Select(`how does "structured concurrency" compare versus goroutines and channels for implementing backpressure in golang 1.22`, SelectContext{})
	if premium != RetrievalPremium {
		t.Errorf("expected premium, got %s", premium)
	}
}

func TestTierSelector_PreferenceOverridesComplexity(t *testing.T) {
	s := NewTierSelector()

	if tier := s.Select("how and why does garbage collection compare versus reference counting", SelectContext{Preference: "fast"}); tier != RetrievalBasic {
		t.Errorf("expected fast preference to force basic, got %s", tier)
	}
	if tier := s.Select("weather", SelectContext{Preference: "thorough"}); tier != RetrievalPremium {
		t.Errorf("expected thorough preference to force premium, got %s", tier)
	}
}

func TestTierSelector_RemainingBudgetCaps(t *testing.T) {
	s := NewTierSelector()

	tier := s.Select("weather", SelectContext{Preference: "thorough", Remaining: 3 * time.Second})
	if tier == RetrievalPremium {
		t.Error("expected premium to be unaffordable within 3s")
	}
}

func TestCombine_TakesStricterSide(t *testing.T) {
	combined := Combine(retrievalParams[RetrievalPremium], budgetParams[BudgetFast])

	if combined.MaxResults != 20 {
		t.Errorf("expected min max results 20, got %d", combined.MaxResults)
	}
	if combined.RerankTopK != 10 {
		t.Errorf("expected min topk 10, got %d", combined.RerankTopK)
	}
	if combined.TimeBudget != 2*time.Second {
		t.Errorf("expected min budget 2s, got %s", combined.TimeBudget)
	}
	if combined.QualityThreshold != 0.6 {
		t.Errorf("expected min threshold 0.6, got %f", combined.QualityThreshold)
	}
	// Premium enables hedging, fast disables it: AND is false.
	if combined.EnableHedging {
		t.Error("expected hedging disabled by the stricter side")
	}
}

func TestBudgetManager_UpgradesOnGoodQualityAndFastLatency(t *testing.T) {
	m := NewBudgetManager(nil)

	if m.Current() != BudgetBalanced {
		t.Fatalf("expected balanced start, got %s", m.Current())
	}

	// Quality over 0.8 and latency well under half the 5s balanced budget.
	for i := 0; i < 20; i++ {
		m.Observe(0.95, 100*time.Millisecond)
		if m.Current() == BudgetThorough {
			break
		}
	}
	if m.Current() != BudgetThorough {
		t.Errorf("expected upgrade to thorough, got %s", m.Current())
	}
}

func TestBudgetManager_DowngradesOnSlowLatency(t *testing.T) {
	m := NewBudgetManager(nil)

	// Latency past 90% of the 5s balanced budget.
	for i := 0; i < 20; i++ {
		m.Observe(0.9, 4900*time.Millisecond)
		if m.Current() == BudgetFast {
			break
		}
	}
	if m.Current() != BudgetFast {
		t.Errorf("expected downgrade to fast, got %s", m.Current())
	}
}

func TestBudgetManager_MovesOneStepPerObservation(t *testing.T) {
	m := NewBudgetManager(nil)

	m.Observe(0.95, 10*time.Millisecond)
	// One observation can move at most one tier from balanced.
	if m.Current() > BudgetThorough || m.Current() < BudgetBalanced {
		t.Errorf("unexpected tier after one observation: %s", m.Current())
	}
	if m.Current() == BudgetThorough {
		// Fine: one step up. A second fast observation cannot skip anywhere.
		return
	}
}

func TestHistory_BoundedWindow(t *testing.T) {
	h := NewHistory(3, time.Hour)

	for i := 0; i < 5; i++ {
		h.Add(Observation{Quality: float64(i), Timestamp: time.Now()})
	}
	if h.Len() != 3 {
		t.Errorf("expected window of 3, got %d", h.Len())
	}
	snap := h.Snapshot()
	if snap[0].Quality != 2 {
		t.Errorf("expected oldest retained quality 2, got %f", snap[0].Quality)
	}
}

func TestHistory_AgeCutoff(t *testing.T) {
	h := NewHistory(10, 10*time.Millisecond)

	h.Add(Observation{Quality: 1, Timestamp: time.Now().Add(-time.Second)})
	h.Add(Observation{Quality: 2, Timestamp: time.Now()})
	if h.Len() != 1 {
		t.Errorf("expected stale observation evicted, got %d", h.Len())
	}
}

func TestController_ShouldRetryHigher(t *testing.T) {
	c := NewController(nil)

	point := c.PointFor(RetrievalBasic, BudgetThorough)
	// Basic threshold 0.6, budget 2s after combining.

	// Quality well below 80% of the threshold, plenty of time left.
	if !c.ShouldRetryHigher(point, 0.3, 100*time.Millisecond) {
		t.Error("expected retry for poor quality with time to spare")
	}

	// Quality clears the threshold: no retry.
	if c.ShouldRetryHigher(point, 0.7, 100*time.Millisecond) {
		t.Error("expected no retry when quality clears the threshold")
	}

	// Most of the budget spent: no retry.
	if c.ShouldRetryHigher(point, 0.3, point.Params.TimeBudget) {
		t.Error("expected no retry when the budget is spent")
	}

	// Quality short of the threshold but not far enough below it.
	if c.ShouldRetryHigher(point, 0.55, 100*time.Millisecond) {
		t.Error("expected no retry for marginally low quality")
	}

	// Never retry at the top tier.
	premium := c.PointFor(RetrievalPremium, BudgetThorough)
	if c.ShouldRetryHigher(premium, 0.1, 100*time.Millisecond) {
		t.Error("expected no retry at premium")
	}
}

func TestController_RetryPointIsOneTierUp(t *testing.T) {
	c := NewController(nil)

	point := c.PointFor(RetrievalBasic, BudgetBalanced)
	retry := c.RetryPoint(point)
	if retry.Retrieval != RetrievalEnhanced {
		t.Errorf("expected enhanced, got %s", retry.Retrieval)
	}

	retry2 := c.RetryPoint(retry)
	if retry2.Retrieval != RetrievalPremium {
		t.Errorf("expected premium, got %s", retry2.Retrieval)
	}

	// At the top it stays put.
	retry3 := c.RetryPoint(retry2)
	if retry3.Retrieval != RetrievalPremium {
		t.Errorf("expected premium to stay, got %s", retry3.Retrieval)
	}
}

func TestController_PlanCombines(t *testing.T) {
	c := NewController(nil)

	point := c.Plan("weather", SelectContext{})
	if point.Retrieval != RetrievalBasic {
		t.Errorf("expected basic retrieval, got %s", point.Retrieval)
	}
	if point.Budget != BudgetBalanced {
		t.Errorf("expected balanced budget, got %s", point.Budget)
	}
	// Basic numeric limits are stricter than balanced.
	if point.Params.MaxResults != 20 {
		t.Errorf("expected 20 max results, got %d", point.Params.MaxResults)
	}
}
