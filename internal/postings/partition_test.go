package postings

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionAssignsEachTermOnce(t *testing.T) {
	t.Parallel()

	p := make(Partial)
	for i := 0; i < 200; i++ {
		p.Add(fmt.Sprintf("term-%03d", i), fmt.Sprintf("u%d", i%7))
	}

	parts := Partition(p, 4)
	require.Len(t, parts, 4)

	seen := make(map[string]int)
	for idx, part := range parts {
		for term := range part {
			seen[term]++
			require.Equal(t, idx, PartitionOf(term, 4))
		}
	}
	require.Len(t, seen, len(p))
	for term, n := range seen {
		require.Equal(t, 1, n, term)
	}
}

func TestPartitionedReduceMatchesSingleReducer(t *testing.T) {
	t.Parallel()

	a := Partial{"apple": {"u1": {}}, "banana": {"u1": {}, "u2": {}}, "date": {}}
	b := Partial{"apple": {"u3": {}}, "cherry": {"u2": {}}}
	want := Reduce(a, b)

	const n = 3
	reducers := make([]*Reducer, n)
	for i := range reducers {
		reducers[i] = NewReducer()
	}
	for _, p := range []Partial{a, b} {
		for i, part := range Partition(p, n) {
			reducers[i].AddPartial(part)
		}
	}
	got := make(Final)
	for _, r := range reducers {
		for term, urls := range r.Final() {
			got[term] = urls
		}
	}
	require.True(t, want.Equal(got))
}

func TestPartitionOfDegenerateCounts(t *testing.T) {
	t.Parallel()

	require.Zero(t, PartitionOf("anything", 1))
	require.Zero(t, PartitionOf("anything", 0))
	require.Len(t, Partition(Partial{"a": {}}, 0), 1)
}
