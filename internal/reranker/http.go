package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/evalx/searcheval/internal/netx"
)

// HTTPReranker calls a remote rerank service over the resilient client, so
// rerank traffic shares the retry/backoff/breaker policy of the rest of the
// network layer. With hedging enabled, duplicate requests are raced with a
// stagger and the first response wins.
type HTTPReranker struct {
	client        *netx.Client
	baseURL       string
	hedgeAttempts int
	hedgeDelay    time.Duration
}

// HTTPOption configures an HTTPReranker.
type HTTPOption func(*HTTPReranker)

// WithHedging races up to attempts duplicate requests, each started delay
// after the previous one.
func WithHedging(attempts int, delay time.Duration) HTTPOption {
	return func(r *HTTPReranker) {
		r.hedgeAttempts = attempts
		r.hedgeDelay = delay
	}
}

// NewHTTPReranker creates a reranker client for the service at baseURL.
func NewHTTPReranker(client *netx.Client, baseURL string, opts ...HTTPOption) *HTTPReranker {
	r := &HTTPReranker{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank posts the token matrices and returns the service's ordering.
func (r *HTTPReranker) Rerank(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	url := r.baseURL + "/rerank"
	opts := netx.RequestOpts{Body: body}

	var resp *netx.Response
	if r.hedgeAttempts > 1 {
		candidates := make([]netx.Candidate, r.hedgeAttempts)
		for i := range candidates {
			candidates[i] = netx.Candidate{
				Method:   http.MethodPost,
				URL:      url,
				Opts:     opts,
				Priority: r.hedgeAttempts - i,
			}
		}
		resp, err = r.client.Hedge(ctx, candidates, r.hedgeAttempts, r.hedgeDelay)
	} else {
		resp, err = r.client.Do(ctx, http.MethodPost, url, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank service error (status %d)", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	return &out, nil
}

var _ Reranker = (*HTTPReranker)(nil)
