// Package detector decides when a plainly fetched page should be re-fetched
// through a headless browser.
package detector

import (
	"bytes"

	"github.com/JakeFAU/wikindex/internal/fetcher"
)

// DefaultThreshold is the body size under which script-heavy pages promote.
const DefaultThreshold = 2048

// scriptShare is the percentage of a small body that must be inside
// <script> elements for it to promote.
const scriptShare = 25

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold takes DefaultThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether page looks client-rendered: an empty 200
// body, a small body dominated by scripts, or a known SPA mount point.
// Non-200 pages never promote.
func (h *Heuristic) ShouldPromote(page fetcher.Page) bool {
	if !page.OK() {
		return false
	}
	if len(page.Body) == 0 {
		return true
	}
	if len(page.Body) < h.BodyLengthThreshold && scriptCoverage(page.Body)*100/len(page.Body) >= scriptShare {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(page.Body, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage counts the bytes of body inside <script ...>...</script>
// elements, tags included. An unterminated element runs to the end.
func scriptCoverage(body []byte) int {
	lower := bytes.ToLower(body)
	var (
		covered int
		rest    = lower
	)
	for {
		start := bytes.Index(rest, []byte("<script"))
		if start < 0 {
			return covered
		}
		tail := rest[start:]
		end := len(tail)
		if gt := bytes.IndexByte(tail, '>'); gt >= 0 {
			if closeAt := bytes.Index(tail[gt+1:], []byte("</script>")); closeAt >= 0 {
				end = gt + 1 + closeAt + len("</script>")
			}
		}
		covered += end
		rest = tail[end:]
	}
}
