// Package memory provides a map-backed source.Source used for tests and for
// offline runs against a YAML graph fixture.
package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/wikindex/internal/source"
)

// Page is one node of the in-memory graph.
type Page struct {
	Text  string   `yaml:"text"`
	Links []string `yaml:"links"`
}

// Source serves pages from a fixed graph and counts calls per URL.
// Unknown URLs return source.ErrNoContent.
type Source struct {
	pages map[string]Page

	mu        sync.Mutex
	failing   map[string]error
	panicking map[string]bool
	linkCalls map[string]int
	textCalls map[string]int
}

// New returns a Source over pages.
func New(pages map[string]Page) *Source {
	cp := make(map[string]Page, len(pages))
	for url, p := range pages {
		cp[url] = p
	}
	return &Source{
		pages:     cp,
		failing:   make(map[string]error),
		panicking: make(map[string]bool),
		linkCalls: make(map[string]int),
		textCalls: make(map[string]int),
	}
}

type fixture struct {
	Pages map[string]Page `yaml:"pages"`
}

// LoadFixture reads a YAML graph of the form
//
//	pages:
//	  https://a: {text: "...", links: [https://b]}
func LoadFixture(r io.Reader) (*Source, error) {
	var fx fixture
	if err := yaml.NewDecoder(r).Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return New(fx.Pages), nil
}

// LoadFixtureFile opens path and calls LoadFixture.
func LoadFixtureFile(path string) (*Source, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied fixture path.
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file
	return LoadFixture(f)
}

// Fail makes every call for url return err.
func (s *Source) Fail(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[url] = err
}

// Panic makes every call for url panic.
func (s *Source) Panic(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicking[url] = true
}

// Content implements source.Source.
func (s *Source) Content(ctx context.Context, url string) (string, error) {
	page, err := s.lookup(ctx, url, s.textCalls)
	if err != nil {
		return "", err
	}
	return page.Text, nil
}

// Links implements source.Source.
func (s *Source) Links(ctx context.Context, url string) ([]string, error) {
	page, err := s.lookup(ctx, url, s.linkCalls)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), page.Links...), nil
}

// LinkCalls returns how many times Links was called for url.
func (s *Source) LinkCalls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkCalls[url]
}

// ContentCalls returns how many times Content was called for url.
func (s *Source) ContentCalls(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textCalls[url]
}

// TotalCalls returns the number of Content and Links calls across all URLs.
func (s *Source) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.linkCalls {
		total += n
	}
	for _, n := range s.textCalls {
		total += n
	}
	return total
}

func (s *Source) lookup(ctx context.Context, url string, counter map[string]int) (Page, error) {
	s.mu.Lock()
	counter[url]++
	failErr := s.failing[url]
	shouldPanic := s.panicking[url]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Page{}, fmt.Errorf("lookup %s: %w", url, err)
	}
	if shouldPanic {
		panic(fmt.Sprintf("memory source: injected panic for %s", url))
	}
	if failErr != nil {
		return Page{}, failErr
	}
	page, ok := s.pages[url]
	if !ok {
		return Page{}, fmt.Errorf("lookup %s: %w", url, source.ErrNoContent)
	}
	return page, nil
}

var _ source.Source = (*Source)(nil)
