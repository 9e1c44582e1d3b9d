package postings

import "github.com/spaolacci/murmur3"

// PartitionOf returns the partition index term is assigned to among n.
func PartitionOf(term string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum64([]byte(term)) % uint64(n))
}

// Partition splits p into n partials keyed by PartitionOf so that every term
// lands in exactly one of them. URL sets are shared with p, not copied.
func Partition(p Partial, n int) []Partial {
	if n < 1 {
		n = 1
	}
	parts := make([]Partial, n)
	for i := range parts {
		parts[i] = make(Partial)
	}
	for term, set := range p {
		parts[PartitionOf(term, n)][term] = set
	}
	return parts
}
