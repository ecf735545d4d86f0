package resolver

import (
	"strings"
	"unicode"
)

// stopWords are dropped before comparing or querying titles.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "into": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "our": {}, "than": {},
	"that": {}, "the": {}, "their": {}, "these": {}, "this": {}, "those": {}, "through": {},
	"to": {}, "using": {}, "via": {}, "was": {}, "were": {}, "which": {}, "with": {},
	"within": {}, "without": {}, "new": {}, "study": {}, "analysis": {}, "between": {},
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// words lowercases s, replaces every non-word character with a space and splits.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
}

// titleTokens returns the set of qualifying tokens: longer than two characters
// and not a stop-word.
func titleTokens(title string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(title) {
		if len(w) <= 2 || isStopWord(w) {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// TitleSimilarity is the Jaccard index of the two titles' token sets.
// Titles without qualifying tokens score 0.
func TitleSimilarity(a, b string) float64 {
	ta, tb := titleTokens(a), titleTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}

	intersection := 0
	for w := range ta {
		if _, ok := tb[w]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// keywords returns up to limit distinct qualifying words longer than minLen,
// in title order.
func keywords(title string, minLen, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words(title) {
		if len(w) <= minLen || isStopWord(w) {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}
