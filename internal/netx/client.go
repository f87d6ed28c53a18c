// Package netx provides a resilient HTTP client with retries, exponential
// backoff, jitter, request hedging and circuit breaking. Provider and
// reranker calls go through it so that upstream flakiness never surfaces as
// an unhandled fault.
package netx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrBreakerOpen is returned when the circuit breaker rejects a call
	// without attempting it.
	ErrBreakerOpen = errors.New("circuit breaker is open")
)

// ClientConfig holds retry and breaker settings for the resilient client.
type ClientConfig struct {
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BackoffBase is the base delay for exponential backoff between attempts.
	BackoffBase time.Duration

	// BackoffFactor is the exponential growth factor (delay = base * factor^attempt).
	BackoffFactor float64

	// JitterMax is the upper bound of the random jitter applied before
	// attempts after the first.
	JitterMax time.Duration

	// BreakerThreshold is the consecutive-failure count that opens the breaker.
	BreakerThreshold int

	// BreakerTimeout is the cool-down before the breaker probes again.
	BreakerTimeout time.Duration

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// RequestOpts carries optional request parameters.
type RequestOpts struct {
	// Params are query-string parameters appended to the URL.
	Params map[string]string

	// Headers are added to the request.
	Headers map[string]string

	// Body is the request body, sent as application/json when set.
	Body []byte
}

// Response is the outcome of a resilient request.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Client executes HTTP requests with retry, backoff, jitter and a circuit
// breaker. A single Client owns one breaker; callers that need independent
// failure domains create separate clients.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *Breaker
	logger  *slog.Logger
}

// NewClient creates a resilient client with the given configuration.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout),
		logger:  logger,
	}
}

// Breaker exposes the client's circuit breaker for inspection.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Do executes a request with up to MaxRetries+1 attempts. Attempts after the
// first are preceded by random jitter, and each failure is followed by
// exponential backoff. An open breaker short-circuits without attempting the
// call. A timeout counts as a failure.
func (c *Client) Do(ctx context.Context, method, rawURL string, opts RequestOpts) (*Response, error) {
	if !c.breaker.Allow() {
		return nil, ErrBreakerOpen
	}

	target, err := buildURL(rawURL, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Jitter prevents retry storms against a recovering upstream.
			if c.cfg.JitterMax > 0 {
				jitter := time.Duration(rand.Int63n(int64(c.cfg.JitterMax)))
				if err := sleepCtx(ctx, jitter); err != nil {
					return nil, err
				}
			}
		}

		resp, err := c.attempt(ctx, method, target, opts)
		if err == nil {
			c.breaker.RecordSuccess()
			return resp, nil
		}

		// A cancelled caller is not an upstream failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.breaker.RecordFailure()
		c.logger.Warn("request attempt failed",
			"method", method,
			"url", rawURL,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt < c.cfg.MaxRetries {
			delay := time.Duration(float64(c.cfg.BackoffBase) * math.Pow(c.cfg.BackoffFactor, float64(attempt)))
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, target string, opts RequestOpts) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if opts.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("upstream error (status %d): %s", resp.StatusCode, truncate(data, 200))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       data,
		Duration:   time.Since(start),
	}, nil
}

func buildURL(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
