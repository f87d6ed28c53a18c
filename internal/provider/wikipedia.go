package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/evalx/searcheval/internal/netx"
)

const wikipediaBaseURL = "https://en.wikipedia.org/w/api.php"

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// Wikipedia searches the MediaWiki search API. No API key required.
type Wikipedia struct {
	client  *netx.Client
	baseURL string
}

// NewWikipedia creates a Wikipedia provider using the given resilient client.
func NewWikipedia(client *netx.Client) *Wikipedia {
	return &Wikipedia{client: client, baseURL: wikipediaBaseURL}
}

// Name returns "wikipedia".
func (p *Wikipedia) Name() string { return "wikipedia" }

type wikiResponse struct {
	Query struct {
		Search []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			PageID  int    `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

// Search queries the MediaWiki list=search endpoint.
func (p *Wikipedia) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 || maxResults > 50 {
		maxResults = 50
	}

	resp, err := p.client.Do(ctx, http.MethodGet, p.baseURL, netx.RequestOpts{
		Params: map[string]string{
			"action":   "query",
			"format":   "json",
			"list":     "search",
			"srsearch": query,
			"srlimit":  strconv.Itoa(maxResults),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wikipedia search failed: %w", err)
	}

	var body wikiResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode wikipedia response: %w", err)
	}

	results := make([]SearchResult, 0, len(body.Query.Search))
	for _, hit := range body.Query.Search {
		results = append(results, SearchResult{
			Title:    hit.Title,
			URL:      fmt.Sprintf("https://en.wikipedia.org/?curid=%d", hit.PageID),
			Snippet:  htmlTagRe.ReplaceAllString(hit.Snippet, ""),
			Provider: p.Name(),
		})
	}
	return results, nil
}

var _ Provider = (*Wikipedia)(nil)
