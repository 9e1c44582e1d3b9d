// Package frontier tracks which URLs a crawl has admitted and which are still
// waiting to be expanded.
//
// A Frontier has a single owner. Reads through Seen are safe from concurrent
// goroutines only while no admission is in progress, which is how the crawler
// uses it: tasks consult Seen during a wave, and the owner calls Admit after
// the wave's barrier.
package frontier

import (
	"errors"
	"fmt"
)

// Frontier is the visited set plus the FIFO queue of URLs awaiting expansion.
type Frontier struct {
	limit   int
	visited map[string]struct{}
	order   []string
	queue   []string
}

// New seeds a Frontier with one URL. limit caps the visited set and must be >= 1.
func New(seed string, limit int) (*Frontier, error) {
	if seed == "" {
		return nil, errors.New("seed url is required")
	}
	if limit < 1 {
		return nil, fmt.Errorf("limit must be >= 1, got %d", limit)
	}
	return &Frontier{
		limit:   limit,
		visited: map[string]struct{}{seed: {}},
		order:   []string{seed},
		queue:   []string{seed},
	}, nil
}

// Full reports whether the visited set has reached the limit.
func (f *Frontier) Full() bool {
	return len(f.visited) >= f.limit
}

// Active reports whether another wave should run.
func (f *Frontier) Active() bool {
	return len(f.queue) > 0 && !f.Full()
}

// Pending returns the number of queued URLs.
func (f *Frontier) Pending() int {
	return len(f.queue)
}

// Size returns the number of admitted URLs.
func (f *Frontier) Size() int {
	return len(f.visited)
}

// Next dequeues up to width URLs in FIFO order.
func (f *Frontier) Next(width int) []string {
	if width < 1 {
		return nil
	}
	n := min(width, len(f.queue))
	wave := make([]string, n)
	copy(wave, f.queue[:n])
	f.queue = f.queue[n:]
	return wave
}

// Seen reports whether url has been admitted.
func (f *Frontier) Seen(url string) bool {
	_, ok := f.visited[url]
	return ok
}

// Admit adds each candidate that is not yet visited to the visited set and the
// queue, in order, until the limit is reached. Remaining candidates are
// discarded. It returns the URLs that were admitted.
func (f *Frontier) Admit(candidates []string) []string {
	var admitted []string
	for _, c := range candidates {
		if f.Full() {
			break
		}
		if c == "" {
			continue
		}
		if _, ok := f.visited[c]; ok {
			continue
		}
		f.visited[c] = struct{}{}
		f.order = append(f.order, c)
		f.queue = append(f.queue, c)
		admitted = append(admitted, c)
	}
	return admitted
}

// Visited returns the admitted URLs in admission order, seed first.
func (f *Frontier) Visited() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Collapse flattens per-task candidate lists into one list with duplicates and
// empty strings removed, keeping first-seen order.
func Collapse(batches [][]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, batch := range batches {
		for _, u := range batch {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}
