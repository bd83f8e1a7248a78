// Package fetcher downloads prospect web pages for email extraction.
package fetcher

import (
	"context"
)

// Page is a downloaded web page.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher downloads a single page. Implementations make one attempt and
// return errors classified by the resilience package; retries belong to
// the caller's guard.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}
