package resolver

import (
	"strings"
	"unicode"
)

// surname extracts the family name from "Smith, J.", "J. Smith" or "Smith",
// keeping its original spelling.
func surname(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	} else if fields := strings.Fields(name); len(fields) > 1 {
		name = fields[len(fields)-1]
	}
	return strings.Trim(strings.TrimSpace(name), ".")
}

// familyName is the surname reduced to lowercase letters, for comparison.
func familyName(name string) string {
	s := surname(name)
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// authorPrefixMatch reports whether the candidate's first author shares a
// family-name prefix with the queried first author.
func authorPrefixMatch(query, candidate string) bool {
	q, c := familyName(query), familyName(candidate)
	if q == "" || c == "" {
		return false
	}
	return strings.HasPrefix(c, q) || strings.HasPrefix(q, c)
}
