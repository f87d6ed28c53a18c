package adaptive

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// emaAlpha weights new observations in the moving averages.
	emaAlpha = 0.1

	// upgradeQuality and upgradeLatencyFrac gate tier upgrades: quality must
	// be at least upgradeQuality and latency under upgradeLatencyFrac of the
	// tier's budget.
	upgradeQuality     = 0.8
	upgradeLatencyFrac = 0.5

	// downgradeLatencyFrac triggers a downgrade when latency exceeds this
	// fraction of the tier's budget.
	downgradeLatencyFrac = 0.9

	defaultHistoryWindow = 100
	defaultHistoryMaxAge = 10 * time.Minute
)

// Observation is one completed evaluation's outcome.
type Observation struct {
	Retrieval RetrievalTier `json:"retrieval_tier"`
	Budget    BudgetTier    `json:"budget_tier"`
	Quality   float64       `json:"quality"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// History is a bounded FIFO of recent observations with an age cutoff.
type History struct {
	mu     sync.Mutex
	window int
	maxAge time.Duration
	items  []Observation
}

// NewHistory creates a history keeping at most window entries no older than
// maxAge. Zero values fall back to defaults.
func NewHistory(window int, maxAge time.Duration) *History {
	if window <= 0 {
		window = defaultHistoryWindow
	}
	if maxAge <= 0 {
		maxAge = defaultHistoryMaxAge
	}
	return &History{window: window, maxAge: maxAge}
}

// Add records an observation, evicting by count and age.
func (h *History) Add(obs Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, obs)
	if len(h.items) > h.window {
		h.items = h.items[len(h.items)-h.window:]
	}
	cutoff := time.Now().Add(-h.maxAge)
	for len(h.items) > 0 && h.items[0].Timestamp.Before(cutoff) {
		h.items = h.items[1:]
	}
}

// Snapshot returns a copy of the current window.
func (h *History) Snapshot() []Observation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Observation, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of retained observations.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// tierEMA holds the moving averages for one budget tier.
type tierEMA struct {
	quality float64
	latency time.Duration
	samples int
}

// BudgetManager adapts the budget tier from observed quality and latency.
// Moves happen one step at a time.
type BudgetManager struct {
	mu      sync.Mutex
	current BudgetTier
	emas    map[BudgetTier]*tierEMA
	logger  *slog.Logger
}

// NewBudgetManager starts at the balanced tier.
func NewBudgetManager(logger *slog.Logger) *BudgetManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetManager{
		current: BudgetBalanced,
		emas:    make(map[BudgetTier]*tierEMA),
		logger:  logger,
	}
}

// Current returns the active budget tier.
func (m *BudgetManager) Current() BudgetTier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Observe folds one evaluation's outcome into the current tier's averages
// and moves at most one tier in either direction.
func (m *BudgetManager) Observe(quality float64, latency time.Duration) BudgetTier {
	m.mu.Lock()
	defer m.mu.Unlock()

	ema, ok := m.emas[m.current]
	if !ok {
		ema = &tierEMA{quality: quality, latency: latency}
		m.emas[m.current] = ema
	} else {
		ema.quality = emaAlpha*quality + (1-emaAlpha)*ema.quality
		ema.latency = time.Duration(emaAlpha*float64(latency) + (1-emaAlpha)*float64(ema.latency))
	}
	ema.samples++

	budget := budgetParams[m.current].TimeBudget
	old := m.current
	switch {
	case ema.latency > time.Duration(downgradeLatencyFrac*float64(budget)) && m.current > BudgetFast:
		m.current--
	case ema.quality >= upgradeQuality &&
		ema.latency < time.Duration(upgradeLatencyFrac*float64(budget)) &&
		m.current < BudgetThorough:
		m.current++
	}
	if m.current != old {
		m.logger.Info("budget tier changed",
			"from", old.String(),
			"to", m.current.String(),
			"ema_quality", ema.quality,
			"ema_latency", ema.latency.String())
	}
	return m.current
}

// EMA returns the averages for a tier; ok is false before any observation.
func (m *BudgetManager) EMA(tier BudgetTier) (quality float64, latency time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ema, found := m.emas[tier]
	if !found {
		return 0, 0, false
	}
	return ema.quality, ema.latency, true
}
