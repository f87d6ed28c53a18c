// Package guardrails enforces operational limits around evaluations:
// input validation, output sanity checks, per-client rate limiting, and a
// circuit breaker independent of the network layer's per-host breakers.
// Some violations do not just warn or block, they adapt the limits
// themselves when the system is consistently pressed against them.
package guardrails

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/evalx/searcheval/internal/netx"
)

// ErrRateLimited is returned when a client exceeds its request quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrBlocked wraps the reason an evaluation was refused.
var ErrBlocked = errors.New("request blocked by guardrails")

// Level classifies how a violation is handled.
type Level int

const (
	// LevelWarn logs and proceeds.
	LevelWarn Level = iota

	// LevelBlock aborts the request.
	LevelBlock

	// LevelAdapt mutates the guardrail configuration.
	LevelAdapt
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelBlock:
		return "BLOCK"
	case LevelAdapt:
		return "ADAPT"
	default:
		return "unknown"
	}
}

// Violation is one triggered guardrail rule.
type Violation struct {
	Level   Level  `json:"level"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Config holds the tunable limits. MaxProcessingTime and MinRelevance can
// be mutated by ADAPT violations.
type Config struct {
	MaxQueryLength    int
	MaxProviders      int
	MaxResultsPerCall int
	MaxProcessingTime time.Duration
	MinRelevance      float64
	RequestsPerMinute int
	BreakerThreshold  int
	BreakerTimeout    time.Duration
}

// adaptStreak is how many consecutive pressured evaluations trigger an
// ADAPT adjustment.
const adaptStreak = 3

const (
	processingTimeGrowth = 1.2
	relevanceFloorDecay  = 0.9
	relevanceFloorMin    = 0.05
	nearLimitFrac        = 0.8
)

// Manager evaluates guardrail rules and keeps violation statistics.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
	breaker  *netx.Breaker
	counts   map[string]int64

	nearLimitStreak    int
	lowRelevanceStreak int

	logger *slog.Logger
}

// NewManager creates a guardrail manager with the given limits.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 0.3
	}
	return &Manager{
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		breaker:  netx.NewBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout),
		counts:   make(map[string]int64),
		logger:   logger,
	}
}

// ValidateInput checks the request before any work is done. known reports
// whether a provider name is registered.
func (m *Manager) ValidateInput(query string, providers []string, maxResults int, known func(string) bool) []Violation {
	var out []Violation

	if len(query) == 0 {
		out = append(out, Violation{LevelBlock, "empty_query", "query must not be empty"})
	}
	if m.cfg.MaxQueryLength > 0 && len(query) > m.cfg.MaxQueryLength {
		out = append(out, Violation{LevelWarn, "query_length",
			fmt.Sprintf("query length %d exceeds %d", len(query), m.cfg.MaxQueryLength)})
	}
	if m.cfg.MaxProviders > 0 && len(providers) > m.cfg.MaxProviders {
		out = append(out, Violation{LevelBlock, "too_many_providers",
			fmt.Sprintf("%d providers exceeds limit %d", len(providers), m.cfg.MaxProviders)})
	}
	if known != nil {
		for _, name := range providers {
			if !known(name) {
				out = append(out, Violation{LevelBlock, "unknown_provider",
					fmt.Sprintf("unknown provider %q", name)})
			}
		}
	}
	if m.cfg.MaxResultsPerCall > 0 && maxResults > m.cfg.MaxResultsPerCall {
		out = append(out, Violation{LevelWarn, "max_results",
			fmt.Sprintf("maxResults %d exceeds %d", maxResults, m.cfg.MaxResultsPerCall)})
	}

	m.count(out)
	return out
}

// ValidateOutput checks the finished evaluation. Sustained pressure against
// the processing-time limit or the relevance floor produces ADAPT
// violations.
func (m *Manager) ValidateOutput(relevance float64, elapsed time.Duration) []Violation {
	m.mu.Lock()
	var out []Violation

	if m.cfg.MaxProcessingTime > 0 && elapsed > m.cfg.MaxProcessingTime {
		out = append(out, Violation{LevelWarn, "over_time_budget",
			fmt.Sprintf("processing took %s, budget %s", elapsed, m.cfg.MaxProcessingTime)})
	}

	if m.cfg.MaxProcessingTime > 0 &&
		elapsed > time.Duration(nearLimitFrac*float64(m.cfg.MaxProcessingTime)) {
		m.nearLimitStreak++
	} else {
		m.nearLimitStreak = 0
	}
	if m.nearLimitStreak >= adaptStreak {
		m.nearLimitStreak = 0
		out = append(out, Violation{LevelAdapt, "raise_time_limit",
			"processing consistently near the time limit"})
	}

	if relevance < m.cfg.MinRelevance {
		out = append(out, Violation{LevelWarn, "low_relevance",
			fmt.Sprintf("relevance %.2f below floor %.2f", relevance, m.cfg.MinRelevance)})
		m.lowRelevanceStreak++
	} else {
		m.lowRelevanceStreak = 0
	}
	if m.lowRelevanceStreak >= adaptStreak {
		m.lowRelevanceStreak = 0
		out = append(out, Violation{LevelAdapt, "lower_relevance_floor",
			"relevance consistently below the floor"})
	}
	m.mu.Unlock()

	m.count(out)
	return out
}

// Handle processes violations: WARN logs, ADAPT mutates configuration, and
// the first BLOCK aborts with ErrBlocked.
func (m *Manager) Handle(violations []Violation) error {
	for _, v := range violations {
		switch v.Level {
		case LevelBlock:
			m.logger.Warn("guardrail blocked request", "rule", v.Rule, "message", v.Message)
			return fmt.Errorf("%w: %s", ErrBlocked, v.Message)
		case LevelAdapt:
			m.adapt(v)
		default:
			m.logger.Warn("guardrail violation", "rule", v.Rule, "message", v.Message)
		}
	}
	return nil
}

func (m *Manager) adapt(v Violation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v.Rule {
	case "raise_time_limit":
		old := m.cfg.MaxProcessingTime
		m.cfg.MaxProcessingTime = time.Duration(processingTimeGrowth * float64(old))
		m.logger.Info("adapted processing time limit",
			"old", old.String(), "new", m.cfg.MaxProcessingTime.String())
	case "lower_relevance_floor":
		old := m.cfg.MinRelevance
		m.cfg.MinRelevance = old * relevanceFloorDecay
		if m.cfg.MinRelevance < relevanceFloorMin {
			m.cfg.MinRelevance = relevanceFloorMin
		}
		m.logger.Info("adapted relevance floor",
			"old", old, "new", m.cfg.MinRelevance)
	}
}

// Allow consumes one token from the client's per-minute quota.
func (m *Manager) Allow(clientID string) bool {
	if m.cfg.RequestsPerMinute <= 0 {
		return true
	}
	m.mu.Lock()
	lim, ok := m.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(m.cfg.RequestsPerMinute)/60.0), m.cfg.RequestsPerMinute)
		m.limiters[clientID] = lim
	}
	m.mu.Unlock()
	return lim.Allow()
}

// Breaker exposes the orchestration-level circuit breaker.
func (m *Manager) Breaker() *netx.Breaker {
	return m.breaker
}

// Current returns a copy of the (possibly adapted) configuration.
func (m *Manager) Current() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Stats returns per-rule violation counts.
func (m *Manager) Stats() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for rule, n := range m.counts {
		out[rule] = n
	}
	return out
}

func (m *Manager) count(violations []Violation) {
	if len(violations) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range violations {
		m.counts[v.Rule]++
	}
}
