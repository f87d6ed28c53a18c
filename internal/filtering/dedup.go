package filtering

import (
	"net/url"
	"strings"

	"github.com/evalx/searcheval/internal/provider"
)

// trackingParams are query parameters that never change page identity.
var trackingParams = map[string]bool{
	"ref":      true,
	"source":   true,
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"_hsenc":   true,
	"_hsmi":    true,
	"referrer": true,
}

// URLDeduper removes results pointing at the same page through different
// tracking-decorated URLs. First occurrence wins, preserving order.
type URLDeduper struct{}

// NewURLDeduper creates a deduper.
func NewURLDeduper() *URLDeduper {
	return &URLDeduper{}
}

// Dedup returns results with canonical-URL duplicates removed.
func (d *URLDeduper) Dedup(results []provider.SearchResult) []provider.SearchResult {
	seen := make(map[string]bool, len(results))
	out := make([]provider.SearchResult, 0, len(results))
	for _, r := range results {
		key := Canonicalize(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// Canonicalize strips tracking parameters and the fragment, lowercases the
// host, and drops any trailing slash. An unparseable URL is returned as-is.
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	for param := range q {
		if trackingParams[param] || strings.HasPrefix(param, "utm_") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
