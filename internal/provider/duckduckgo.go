package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/evalx/searcheval/internal/netx"
)

const ddgBaseURL = "https://api.duckduckgo.com/"

// DuckDuckGo searches the DuckDuckGo instant-answer API. No API key required.
type DuckDuckGo struct {
	client  *netx.Client
	baseURL string
}

// NewDuckDuckGo creates a DuckDuckGo provider using the given resilient client.
func NewDuckDuckGo(client *netx.Client) *DuckDuckGo {
	return &DuckDuckGo{client: client, baseURL: ddgBaseURL}
}

// Name returns "ddg".
func (p *DuckDuckGo) Name() string { return "ddg" }

// ddgResponse is the subset of the instant-answer payload we consume.
type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search queries DuckDuckGo and maps the instant answer plus related topics
// onto SearchResults.
func (p *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	resp, err := p.client.Do(ctx, http.MethodGet, p.baseURL, netx.RequestOpts{
		Params: map[string]string{
			"q":       query,
			"format":  "json",
			"no_html": "1",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search failed: %w", err)
	}

	var body ddgResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode duckduckgo response: %w", err)
	}

	var results []SearchResult
	if body.AbstractText != "" {
		results = append(results, SearchResult{
			Title:    body.Heading,
			URL:      body.AbstractURL,
			Snippet:  body.AbstractText,
			Provider: p.Name(),
		})
	}
	for _, topic := range body.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:    topic.Text,
			URL:      topic.FirstURL,
			Snippet:  topic.Text,
			Provider: p.Name(),
		})
	}
	return results, nil
}

var _ Provider = (*DuckDuckGo)(nil)
