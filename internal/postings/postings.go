// Package postings holds the term → URL index types and the operations that
// combine them: building partial postings from mapper output, reducing any
// number of partials into final sorted posting lists, and partitioning the
// term space across independent reducers.
package postings

import (
	"slices"
	"sort"
	"strings"
)

// Vocabulary is the fixed set of terms an index is built for.
type Vocabulary map[string]struct{}

// NewVocabulary builds a Vocabulary, skipping blank terms.
func NewVocabulary(terms ...string) Vocabulary {
	v := make(Vocabulary, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		v[term] = struct{}{}
	}
	return v
}

// Has reports whether term belongs to the vocabulary.
func (v Vocabulary) Has(term string) bool {
	_, ok := v[term]
	return ok
}

// Terms returns the vocabulary in lexicographic order.
func (v Vocabulary) Terms() []string {
	return sortedKeys(v)
}

// Partial maps each term to the set of URLs one mapper run found it in.
type Partial map[string]map[string]struct{}

// NewPartial returns a Partial with every vocabulary term mapped to an empty set.
func NewPartial(v Vocabulary) Partial {
	p := make(Partial, len(v))
	for term := range v {
		p[term] = make(map[string]struct{})
	}
	return p
}

// Add records that url contains term.
func (p Partial) Add(term, url string) {
	set, ok := p[term]
	if !ok {
		set = make(map[string]struct{})
		p[term] = set
	}
	set[url] = struct{}{}
}

// Terms returns the partial's terms in lexicographic order.
func (p Partial) Terms() []string {
	return sortedKeys(p)
}

// URLs returns the URLs recorded for term, sorted.
func (p Partial) URLs(term string) []string {
	return sortedKeys(p[term])
}

// Final maps each term to its sorted, deduplicated posting list.
type Final map[string][]string

// Terms returns the index terms in lexicographic order.
func (f Final) Terms() []string {
	return sortedKeys(f)
}

// Equal reports whether both indexes hold the same terms and posting lists.
func (f Final) Equal(other Final) bool {
	if len(f) != len(other) {
		return false
	}
	for term, urls := range f {
		o, ok := other[term]
		if !ok || !slices.Equal(urls, o) {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
