package postings

import (
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/wikindex/internal/table"
)

// ReadVocabulary parses a `<term>\t` per line vocabulary file.
func ReadVocabulary(r io.Reader) (Vocabulary, error) {
	terms, err := table.ReadKeys(r)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return NewVocabulary(terms...), nil
}

// WritePartial writes p as postings lines, terms and URLs sorted.
func WritePartial(w io.Writer, p Partial) error {
	tw := table.NewWriter(w)
	for _, term := range p.Terms() {
		if err := tw.Write(term, strings.Join(p.URLs(term), " ")); err != nil {
			return fmt.Errorf("write partial postings: %w", err)
		}
	}
	return tw.Flush()
}

// WriteFinal writes f as postings lines in term order.
func WriteFinal(w io.Writer, f Final) error {
	tw := table.NewWriter(w)
	for _, term := range f.Terms() {
		if err := tw.Write(term, strings.Join(f[term], " ")); err != nil {
			return fmt.Errorf("write final postings: %w", err)
		}
	}
	return tw.Flush()
}
