package papersources

import "strings"

// Query helpers for the field-qualified syntax the Searcher accepts
// (title:"…", author:"^Smith", year:2019, bibcode:("a" OR "b")).

// Quote wraps v in double quotes, escaping embedded quotes.
func Quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// FieldPhrase returns field:"value".
func FieldPhrase(field, value string) string {
	return field + ":" + Quote(value)
}

// FieldTerms returns field:(t1 t2 …).
func FieldTerms(field string, terms []string) string {
	return field + ":(" + strings.Join(terms, " ") + ")"
}

// OrQuery returns field:("a" OR "b" …) for a bulk id lookup.
func OrQuery(field string, values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, Quote(v))
	}
	return field + ":(" + strings.Join(quoted, " OR ") + ")"
}

// And joins non-empty clauses with spaces, which the service treats as AND.
func And(clauses ...string) string {
	out := make([]string, 0, len(clauses))
	for _, c := range clauses {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return strings.Join(out, " ")
}
