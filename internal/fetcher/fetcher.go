// Package fetcher defines the raw page retrieval contract shared by the colly
// and headless implementations.
package fetcher

import (
	"context"
	"time"
)

// Page is a fetched HTTP response body and its metadata.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the response carried a 200 status.
func (p Page) OK() bool {
	return p.StatusCode == 200
}

// Fetcher retrieves a page. Non-2xx responses are returned as a Page with the
// status set, not as an error; errors mean no response was obtained.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}
