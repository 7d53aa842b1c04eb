package canonical

import (
	"math"
	"strings"

	"github.com/mrlokans/marginalia/internal/metadata"
	"github.com/mrlokans/marginalia/internal/titles"
)

const (
	weightKnownExternalID = 0.80
	weightTitleExact      = 0.55
	weightTitleOnlyExact  = 0.75
	weightTitlePartial    = 0.30
	weightAuthorOverlap   = 0.35
)

// Score rates how well a catalog candidate matches the normalized title key
// and the raw author. known reports whether the candidate's external id is
// already linked to a stored identity. The result is in [0, 1].
//
// ISBN and cover presence do not contribute; they only break ties between
// equally scored candidates (see completeness).
func Score(key, author string, c metadata.Candidate, known bool) float64 {
	score := 0.0
	if known {
		score += weightKnownExternalID
	}

	authorKnown := titles.NormalizeAuthor(author) != ""
	candKey := titles.NormalizeTitle(c.Title)
	switch {
	case candKey == "" || key == "":
	case candKey == key:
		if authorKnown {
			score += weightTitleExact
		} else {
			score += weightTitleOnlyExact
		}
	case containsPhrase(candKey, key) || containsPhrase(key, candKey):
		score += weightTitlePartial
	}

	if authorKnown {
		score += weightAuthorOverlap * AuthorOverlap(author, c.Authors)
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*10000) / 10000
}

// completeness counts the optional catalog fields a candidate carries.
func completeness(c metadata.Candidate) int {
	n := 0
	if c.ISBN13 != "" {
		n++
	}
	if c.CoverURL != "" {
		n++
	}
	return n
}

// AuthorOverlap averages, over the input's authors, the best token Jaccard
// against any candidate author. Initials are ignored.
func AuthorOverlap(author string, candidates []string) float64 {
	inputs := titles.SplitAuthors(author)
	if len(inputs) == 0 || len(candidates) == 0 {
		return 0
	}

	total := 0.0
	for _, in := range inputs {
		a := nameTokens(in)
		best := 0.0
		for _, cand := range candidates {
			if j := jaccard(a, nameTokens(cand)); j > best {
				best = j
			}
		}
		total += best
	}
	return total / float64(len(inputs))
}

func nameTokens(name string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range titles.Tokens(titles.CleanAuthor(name)) {
		if len([]rune(t)) > 1 {
			set[t] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// containsPhrase reports whether needle occurs in haystack on word boundaries.
func containsPhrase(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
