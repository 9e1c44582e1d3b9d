// Package wiki implements source.Source for MediaWiki sites such as
// Wikipedia: article text comes from the title heading and the content
// body, and links are in-site article links outside the meta namespaces.
package wiki

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/fetcher"
	"github.com/JakeFAU/wikindex/internal/source"
)

const (
	// DefaultBaseURL is prefixed to site-relative article links.
	DefaultBaseURL = "https://wikipedia.org"
	// DefaultMinTokenLength drops words of three runes or fewer.
	DefaultMinTokenLength = 4

	articlePrefix   = "/wiki/"
	titleSelector   = "h1#firstHeading"
	contentSelector = "div#mw-content-text"
)

// ExcludedNamespaces lists the namespaces whose pages are never followed.
var ExcludedNamespaces = []string{
	"User:", "File:", "Category:", "Special:", "Wikipedia:", "Talk:",
	"Template:", "Template_talk:", "Media:", "User_talk:", "Help:",
	"Module:", "Free_Content:", "Portal:",
}

// Config controls link resolution and text normalization.
type Config struct {
	BaseURL        string
	MinTokenLength int
}

// Source reads articles through a fetcher.Fetcher.
type Source struct {
	fetcher fetcher.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Source. Zero config fields take the package defaults.
func New(f fetcher.Fetcher, cfg Config, logger *zap.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = DefaultMinTokenLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{fetcher: f, cfg: cfg, logger: logger.Named("wiki")}
}

// Content returns the normalized title and body text of the article.
func (s *Source) Content(ctx context.Context, url string) (string, error) {
	doc, err := s.document(ctx, url)
	if err != nil {
		return "", err
	}
	title := Normalize(doc.Find(titleSelector).First().Text(), s.cfg.MinTokenLength)
	body := Normalize(doc.Find(contentSelector).First().Text(), s.cfg.MinTokenLength)
	return strings.TrimSpace(title + " " + body), nil
}

// Links returns the absolute URLs of the article links on the page, in
// document order. Duplicates are kept.
func (s *Source) Links(ctx context.Context, url string) ([]string, error) {
	doc, err := s.document(ctx, url)
	if err != nil {
		return nil, err
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if IsArticleLink(href) {
			links = append(links, s.cfg.BaseURL+href)
		}
	})
	return links, nil
}

func (s *Source) document(ctx context.Context, url string) (*goquery.Document, error) {
	page, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("fetch %s: %w: %w", url, source.ErrNoContent, err)
	}
	if !page.OK() {
		s.logger.Warn("non-success status", zap.String("url", url), zap.Int("status", page.StatusCode))
		return nil, fmt.Errorf("fetch %s: status %d: %w", url, page.StatusCode, source.ErrNoContent)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", url, source.ErrNoContent, err)
	}
	return doc, nil
}

// IsArticleLink reports whether href is a site-relative article link outside
// the excluded namespaces.
func IsArticleLink(href string) bool {
	name, ok := strings.CutPrefix(href, articlePrefix)
	if !ok || name == "" {
		return false
	}
	for _, ns := range ExcludedNamespaces {
		if strings.HasPrefix(name, ns) {
			return false
		}
	}
	return true
}

var _ source.Source = (*Source)(nil)
