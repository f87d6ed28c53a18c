package guardrails

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager(cfg Config) *Manager {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.MaxProviders == 0 {
		cfg.MaxProviders = 10
	}
	if cfg.MaxResultsPerCall == 0 {
		cfg.MaxResultsPerCall = 100
	}
	if cfg.MaxProcessingTime == 0 {
		cfg.MaxProcessingTime = 30 * time.Second
	}
	return NewManager(cfg, nil)
}

func knownProviders(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestValidateInput_EmptyQueryBlocks(t *testing.T) {
	m := newTestManager(Config{})

	violations := m.ValidateInput("", []string{"ddg"}, 10, knownProviders("ddg"))
	if err := m.Handle(violations); !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked for empty query, got %v", err)
	}
}

func TestValidateInput_UnknownProviderBlocks(t *testing.T) {
	m := newTestManager(Config{})

	violations := m.ValidateInput("query", []string{"bogus"}, 10, knownProviders("ddg"))
	err := m.Handle(violations)
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected reason to name the provider, got %v", err)
	}
}

func TestValidateInput_TooManyProvidersBlocks(t *testing.T) {
	m := newTestManager(Config{MaxProviders: 2})

	violations := m.ValidateInput("query", []string{"a", "b", "c"}, 10, nil)
	if err := m.Handle(violations); !errors.Is(err, ErrBlocked) {
		t.Errorf("expected ErrBlocked, got %v", err)
	}
}

func TestValidateInput_LongQueryWarnsButProceeds(t *testing.T) {
	m := newTestManager(Config{MaxQueryLength: 10})

	violations := m.ValidateInput("a query well past the limit", []string{"ddg"}, 10, knownProviders("ddg"))
	if len(violations) != 1 || violations[0].Level != LevelWarn {
		t.Fatalf("expected one WARN violation, got %v", violations)
	}
	if err := m.Handle(violations); err != nil {
		t.Errorf("expected warnings to proceed, got %v", err)
	}
}

func TestValidateInput_ExcessiveResultsWarns(t *testing.T) {
	m := newTestManager(Config{MaxResultsPerCall: 50})

	violations := m.ValidateInput("query", []string{"ddg"}, 200, knownProviders("ddg"))
	if len(violations) != 1 || violations[0].Level != LevelWarn {
		t.Errorf("expected WARN for excessive results, got %v", violations)
	}
}

func TestValidateOutput_OverBudgetWarns(t *testing.T) {
	m := newTestManager(Config{MaxProcessingTime: time.Second})

	violations := m.ValidateOutput(0.9, 2*time.Second)
	found := false
	for _, v := range violations {
		if v.Rule == "over_time_budget" && v.Level == LevelWarn {
			found = true
		}
	}
	if !found {
		t.Errorf("expected over_time_budget warning, got %v", violations)
	}
}

func TestValidateOutput_SustainedPressureAdaptsTimeLimit(t *testing.T) {
	m := newTestManager(Config{MaxProcessingTime: time.Second})
	before := m.Current().MaxProcessingTime

	// Three consecutive evaluations near the limit trigger an ADAPT.
	var adapted bool
	for i := 0; i < 3; i++ {
		violations := m.ValidateOutput(0.9, 900*time.Millisecond)
		if err := m.Handle(violations); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, v := range violations {
			if v.Level == LevelAdapt {
				adapted = true
			}
		}
	}
	if !adapted {
		t.Fatal("expected an ADAPT violation after sustained pressure")
	}
	if m.Current().MaxProcessingTime <= before {
		t.Errorf("expected raised time limit, got %s", m.Current().MaxProcessingTime)
	}
}

func TestValidateOutput_SustainedLowRelevanceLowersFloor(t *testing.T) {
	m := newTestManager(Config{})
	before := m.Current().MinRelevance

	for i := 0; i < 3; i++ {
		violations := m.ValidateOutput(0.01, time.Millisecond)
		if err := m.Handle(violations); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if m.Current().MinRelevance >= before {
		t.Errorf("expected lowered relevance floor, got %f", m.Current().MinRelevance)
	}
}

func TestAllow_RateLimits(t *testing.T) {
	m := newTestManager(Config{RequestsPerMinute: 3})

	for i := 0; i < 3; i++ {
		if !m.Allow("client-1") {
			t.Fatalf("expected request %d within quota", i+1)
		}
	}
	if m.Allow("client-1") {
		t.Error("expected fourth request rejected")
	}
	// Quotas are per client.
	if !m.Allow("client-2") {
		t.Error("expected a different client to have its own bucket")
	}
}

func TestAllow_UnlimitedWhenUnconfigured(t *testing.T) {
	m := newTestManager(Config{RequestsPerMinute: 0})

	for i := 0; i < 100; i++ {
		if !m.Allow("client") {
			t.Fatal("expected no rate limiting when unconfigured")
		}
	}
}

func TestStats_CountsViolations(t *testing.T) {
	m := newTestManager(Config{})

	m.ValidateInput("", nil, 0, nil)
	m.ValidateInput("", nil, 0, nil)

	if m.Stats()["empty_query"] != 2 {
		t.Errorf("expected 2 empty_query violations, got %d", m.Stats()["empty_query"])
	}
}
