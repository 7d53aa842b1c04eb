package dedup

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/mrlokans/marginalia/internal/titles"
)

// ErrUnhashableContent is returned for entry text that is not valid UTF-8.
var ErrUnhashableContent = errors.New("entry content is not valid UTF-8")

// ContentHash returns the hex xxhash64 of the folded text, so entries that
// differ only in case, punctuation or spacing hash identically.
func ContentHash(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrUnhashableContent
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(titles.Fold(text))), nil
}

// Similarity is the Jaccard index of the two texts' folded word sets.
// Texts that fold to the same string always score exactly 1.0.
func Similarity(a, b string) float64 {
	fa, fb := titles.Fold(a), titles.Fold(b)
	if fa == fb {
		return 1.0
	}

	set := make(map[string]struct{})
	for _, t := range titles.Tokens(fa) {
		set[t] = struct{}{}
	}

	union := len(set)
	intersection := 0
	seen := make(map[string]struct{})
	for _, t := range titles.Tokens(fb) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}
