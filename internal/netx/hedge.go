package netx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Candidate is one equivalent request in a hedged set. Higher priority
// candidates are launched first.
type Candidate struct {
	Method   string
	URL      string
	Opts     RequestOpts
	Priority int
}

// HedgeResult pairs a candidate with its outcome.
type HedgeResult struct {
	URL      string
	Response *Response
	Err      error
}

// HedgeError aggregates every candidate's failure when no hedged request
// succeeded.
type HedgeError struct {
	Results []HedgeResult
}

// Error implements the error interface.
func (e *HedgeError) Error() string {
	msgs := make([]string, 0, len(e.Results))
	for _, r := range e.Results {
		if r.Err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", r.URL, r.Err))
		}
	}
	return "all hedged requests failed: " + strings.Join(msgs, "; ")
}

// Hedge launches the candidates in priority order under a concurrency cap,
// staggering launches by hedgeDelay, and returns the first success. Later
// candidates are cancelled once a winner is found. On total failure it
// returns a *HedgeError carrying every candidate's error.
func (c *Client) Hedge(ctx context.Context, candidates []Candidate, maxConcurrent int, hedgeDelay time.Duration) (*Response, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no hedge candidates")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = len(candidates)
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	hedgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []HedgeResult
		winner  *Response
	)
	sem := make(chan struct{}, maxConcurrent)

	for i, cand := range ordered {
		wg.Add(1)
		go func(idx int, cand Candidate) {
			defer wg.Done()

			// Stagger launches so the primary gets a head start.
			if idx > 0 && hedgeDelay > 0 {
				if err := sleepCtx(hedgeCtx, time.Duration(idx)*hedgeDelay); err != nil {
					return
				}
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-hedgeCtx.Done():
				return
			}

			resp, err := c.Do(hedgeCtx, cand.Method, cand.URL, cand.Opts)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, HedgeResult{URL: cand.URL, Response: resp, Err: err})
			if err == nil && winner == nil {
				winner = resp
				cancel()
			}
		}(i, cand)
	}

	wg.Wait()

	if winner != nil {
		return winner, nil
	}
	return nil, &HedgeError{Results: results}
}
