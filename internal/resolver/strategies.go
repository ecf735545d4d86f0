package resolver

import (
	"strconv"
	"strings"

	"github.com/helixir/paper-sync-service/internal/papersources"
)

// Strategy names, most specific first.
const (
	StrategyExactTitle            = "exact_title"
	StrategyKeywordsAuthorYear    = "keywords_author_year"
	StrategyAuthorYearDistinctive = "author_year_distinctive"
	StrategyAuthorYear            = "author_year"
	StrategyKeywordsOnly          = "keywords_only"
)

// Thresholds are the minimum title similarities each strategy accepts, plus
// the floor applied when both author and year agree.
type Thresholds struct {
	ExactTitle            float64 `mapstructure:"exact_title"`
	KeywordsAuthorYear    float64 `mapstructure:"keywords_author_year"`
	AuthorYearDistinctive float64 `mapstructure:"author_year_distinctive"`
	AuthorYear            float64 `mapstructure:"author_year"`
	KeywordsOnly          float64 `mapstructure:"keywords_only"`
	AuthorYearFloor       float64 `mapstructure:"author_year_floor"`
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ExactTitle:            0.5,
		KeywordsAuthorYear:    0.4,
		AuthorYearDistinctive: 0.35,
		AuthorYear:            0.5,
		KeywordsOnly:          0.55,
		AuthorYearFloor:       0.25,
	}
}

// Strategy is one query-construction rule with its acceptance threshold.
type Strategy struct {
	Name          string
	MinSimilarity float64

	// build returns the query, or false when the strategy does not apply.
	build func(Query) (string, bool)
}

// BuildQuery returns the search query for q, or false when the strategy
// cannot be applied to it.
func (s Strategy) BuildQuery(q Query) (string, bool) {
	return s.build(q)
}

// Strategies returns the ordered strategy list. The keywords-only strategy is
// appended last when includeKeywordsOnly is set.
func Strategies(t Thresholds, includeKeywordsOnly bool) []Strategy {
	list := []Strategy{
		{Name: StrategyExactTitle, MinSimilarity: t.ExactTitle, build: exactTitleQuery},
		{Name: StrategyKeywordsAuthorYear, MinSimilarity: t.KeywordsAuthorYear, build: keywordsAuthorYearQuery},
		{Name: StrategyAuthorYearDistinctive, MinSimilarity: t.AuthorYearDistinctive, build: authorYearDistinctiveQuery},
		{Name: StrategyAuthorYear, MinSimilarity: t.AuthorYear, build: authorYearQuery},
	}
	if includeKeywordsOnly {
		list = append(list, Strategy{Name: StrategyKeywordsOnly, MinSimilarity: t.KeywordsOnly, build: keywordsOnlyQuery})
	}
	return list
}

var titleCleaner = strings.NewReplacer(`"`, "", ":", "", ";", "")

func exactTitleQuery(q Query) (string, bool) {
	title := strings.Join(strings.Fields(titleCleaner.Replace(q.Title)), " ")
	if len(title) <= 10 {
		return "", false
	}
	return papersources.FieldPhrase("title", title), true
}

func keywordsAuthorYearQuery(q Query) (string, bool) {
	kw := keywords(q.Title, 3, 8)
	if len(kw) == 0 {
		return "", false
	}
	return papersources.And(
		papersources.FieldTerms("title", kw),
		authorClause(q.FirstAuthor),
		yearClause(q.Year),
	), true
}

func authorYearDistinctiveQuery(q Query) (string, bool) {
	if !q.hasAuthorAndYear() {
		return "", false
	}
	kw := keywords(q.Title, 5, 4)
	if len(kw) == 0 {
		return "", false
	}
	return papersources.And(
		authorClause(q.FirstAuthor),
		yearClause(q.Year),
		papersources.FieldTerms("title", kw),
	), true
}

func authorYearQuery(q Query) (string, bool) {
	if !q.hasAuthorAndYear() {
		return "", false
	}
	return papersources.And(authorClause(q.FirstAuthor), yearClause(q.Year)), true
}

func keywordsOnlyQuery(q Query) (string, bool) {
	kw := keywords(q.Title, 3, 8)
	if len(kw) == 0 {
		return "", false
	}
	return papersources.FieldTerms("title", kw), true
}

// authorClause anchors the family name to the first author position.
func authorClause(author string) string {
	name := surname(author)
	if name == "" {
		return ""
	}
	return papersources.FieldPhrase("author", "^"+name)
}

func yearClause(year int) string {
	if year <= 0 {
		return ""
	}
	return "year:" + strconv.Itoa(year)
}
