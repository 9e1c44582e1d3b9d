// Package source defines the contract the crawler and mapper use to read the
// web graph: a page's text content and its outgoing links.
package source

import (
	"context"
	"errors"
)

// ErrNoContent reports that a page could not be fetched or had no usable body.
// Callers treat it, and any other error, as an absent page.
var ErrNoContent = errors.New("no content")

// Source fetches page content and outgoing links by URL.
type Source interface {
	// Content returns the normalized, whitespace-separated text of url.
	Content(ctx context.Context, url string) (string, error)
	// Links returns the absolute URLs url links to, in document order.
	Links(ctx context.Context, url string) ([]string, error)
}
