package netx

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed allows all calls through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls without attempting them.
	StateOpen
	// StateHalfOpen allows a probe call after the cool-down elapsed.
	StateHalfOpen
)

// String returns the conventional uppercase name for the state.
func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Breaker is a consecutive-failure circuit breaker.
//
// CLOSED transitions to OPEN after Threshold consecutive failures. OPEN
// transitions to HALF_OPEN once Timeout has elapsed since the last failure.
// A success in HALF_OPEN resets to CLOSED; a failure reopens immediately.
// State updates are atomic relative to the triggering call.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	timeout     time.Duration
	failures    int
	lastFailure time.Time
	state       BreakerState
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and cools down for timeout before probing again.
func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
	}
}

// Allow reports whether a call may proceed. When the cool-down has elapsed
// the breaker moves to HALF_OPEN and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached. A failure during HALF_OPEN reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
