package postings

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/table"
)

// ConsumeStats summarizes one Consume call.
type ConsumeStats struct {
	Rows    int
	Skipped int
}

// Reducer unions any number of partial postings into final posting lists.
// It is single-threaded: one Reducer owns its accumulator and must not be
// shared between goroutines.
type Reducer struct {
	acc    map[string]map[string]struct{}
	logger *zap.Logger
}

// ReducerOption customizes a Reducer.
type ReducerOption func(*Reducer)

// WithLogger attaches a logger used to report skipped lines.
func WithLogger(logger *zap.Logger) ReducerOption {
	return func(r *Reducer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReducer returns an empty Reducer.
func NewReducer(opts ...ReducerOption) *Reducer {
	r := &Reducer{
		acc:    make(map[string]map[string]struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add merges urls into term's accumulator. Empty URL tokens are ignored; the
// term is recorded even when no URL survives.
func (r *Reducer) Add(term string, urls []string) {
	set, ok := r.acc[term]
	if !ok {
		set = make(map[string]struct{}, len(urls))
		r.acc[term] = set
	}
	for _, u := range urls {
		if u == "" {
			continue
		}
		set[u] = struct{}{}
	}
}

// AddPartial merges every term of p.
func (r *Reducer) AddPartial(p Partial) {
	for term, set := range p {
		acc, ok := r.acc[term]
		if !ok {
			acc = make(map[string]struct{}, len(set))
			r.acc[term] = acc
		}
		for u := range set {
			if u != "" {
				acc[u] = struct{}{}
			}
		}
	}
}

// Consume streams `term\tURL URL ...` lines from rd into the accumulator.
// Malformed lines (no tab, empty term) are logged and skipped; read errors
// abort the call.
func (r *Reducer) Consume(rd io.Reader) (ConsumeStats, error) {
	var stats ConsumeStats
	rows := table.NewReader(rd)
	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if errors.Is(err, table.ErrMalformedRow) {
			stats.Skipped++
			r.logger.Warn("skipping malformed postings line", zap.Int("line", rows.Line()))
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("read postings: %w", err)
		}
		if row.Key == "" {
			stats.Skipped++
			r.logger.Warn("skipping postings line with empty term", zap.Int("line", rows.Line()))
			continue
		}
		if strings.Contains(row.Value, "\t") {
			stats.Skipped++
			r.logger.Warn("skipping postings line with extra columns", zap.Int("line", rows.Line()))
			continue
		}
		stats.Rows++
		r.Add(row.Key, strings.Split(row.Value, " "))
	}
}

// Final returns the accumulated index with each posting list sorted.
func (r *Reducer) Final() Final {
	out := make(Final, len(r.acc))
	for term, set := range r.acc {
		out[term] = sortedKeys(set)
	}
	return out
}

// Reduce unions the given partials with a fresh Reducer.
func Reduce(partials ...Partial) Final {
	r := NewReducer()
	for _, p := range partials {
		r.AddPartial(p)
	}
	return r.Final()
}
