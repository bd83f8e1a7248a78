package provider

import (
	"context"
	"strings"

	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/jina"
)

// JinaSearch adapts Jina search to SERP and SiteSearcher.
type JinaSearch struct {
	client jina.Client
}

// NewJinaSearch wraps a Jina client.
func NewJinaSearch(c jina.Client) *JinaSearch {
	return &JinaSearch{client: c}
}

// Provider implements SERP.
func (j *JinaSearch) Provider() string { return jina.Provider }

// Search implements SERP.
func (j *JinaSearch) Search(ctx context.Context, query, location string, pageSize int) ([]SearchResult, error) {
	return j.search(ctx, query, jina.WithLocation(location), jina.WithLimit(pageSize))
}

// SearchSite implements SiteSearcher.
func (j *JinaSearch) SearchSite(ctx context.Context, site, query, location string, pageSize int) ([]SearchResult, error) {
	return j.search(ctx, query, jina.WithSiteFilter(site), jina.WithLocation(location), jina.WithLimit(pageSize))
}

func (j *JinaSearch) search(ctx context.Context, query string, opts ...jina.SearchOption) ([]SearchResult, error) {
	resp, err := j.client.Search(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(resp.Data))
	for i, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		out = append(out, SearchResult{URL: r.URL, Title: strings.TrimSpace(r.Title), Rank: i + 1})
	}
	return out, nil
}

// GooglePlaces adapts Places text search to SERP. Places without a website
// are dropped; the review count stands in for traffic.
type GooglePlaces struct {
	client google.Client
}

// NewGooglePlaces wraps a Places client.
func NewGooglePlaces(c google.Client) *GooglePlaces {
	return &GooglePlaces{client: c}
}

// Provider implements SERP.
func (g *GooglePlaces) Provider() string { return google.Provider }

// Search implements SERP.
func (g *GooglePlaces) Search(ctx context.Context, query, location string, pageSize int) ([]SearchResult, error) {
	if location != "" {
		query += " in " + location
	}
	if pageSize <= 0 || pageSize > google.MaxPageSize {
		pageSize = google.MaxPageSize
	}
	resp, err := g.client.TextSearch(ctx, query, pageSize)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(resp.Places))
	for i, p := range resp.Places {
		if p.WebsiteURI == "" {
			continue
		}
		reviews := p.UserRatingCount
		out = append(out, SearchResult{
			URL:             p.WebsiteURI,
			Title:           p.DisplayName.Text,
			Rank:            i + 1,
			TrafficEstimate: &reviews,
		})
	}
	return out, nil
}
