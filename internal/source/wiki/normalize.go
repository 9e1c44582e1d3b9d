package wiki

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text to lower case, splits it into words on any rune that
// is not a letter or digit, and drops words shorter than minLen runes. The
// result is the surviving words joined by single spaces.
func Normalize(text string, minLen int) string {
	folded := cases.Lower(language.Und).String(norm.NFKC.String(text))
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := words[:0]
	for _, w := range words {
		if utf8.RuneCountInString(w) >= minLen {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
