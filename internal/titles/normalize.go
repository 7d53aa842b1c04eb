package titles

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold produces a comparison form of s: lower-cased, diacritics removed,
// punctuation and symbols dropped, whitespace collapsed. Apostrophes are
// removed without leaving a gap ("don't" -> "dont"); other punctuation
// separates words.
func Fold(s string) string {
	// transform.Chain is stateful, so a fresh chain per call keeps Fold safe
	// for concurrent use.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
		default:
			// whitespace, punctuation and symbols all act as separators
			pendingSpace = true
		}
	}
	return b.String()
}

// Tokens splits the folded form of s into words.
func Tokens(s string) []string {
	return strings.Fields(Fold(s))
}

// NormalizeTitle returns the comparison key for a title.
func NormalizeTitle(title string) string {
	return Fold(CleanTitle(title, ""))
}

// NormalizeTitleFor is NormalizeTitle with author-remnant stripping.
func NormalizeTitleFor(title, author string) string {
	return Fold(CleanTitle(title, author))
}

// NormalizeAuthor returns the comparison key for an author string.
func NormalizeAuthor(author string) string {
	return Fold(CleanAuthor(author))
}
