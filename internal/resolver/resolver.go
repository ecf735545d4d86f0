// Package resolver turns partial paper metadata (a title, first author and
// year lifted from a file) into at most one canonical bibliographic record.
//
// Resolution runs a fixed list of search strategies, most specific first,
// and stops at the first candidate that clears that strategy's threshold:
//
//	r := resolver.New(adsClient, resolver.DefaultConfig(), logger, metrics)
//	match, err := r.Resolve(ctx, resolver.Query{Title: t, FirstAuthor: "Smith", Year: 2019})
//	if match == nil { /* nothing matched; not an error */ }
package resolver

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
	"github.com/helixir/paper-sync-service/internal/papersources"
)

const (
	// DefaultRows is the number of candidates requested per strategy.
	DefaultRows = 5

	// relevanceSort orders candidates by search relevance.
	relevanceSort = "score desc"
)

// Query is the partial metadata of a paper to resolve.
type Query struct {
	Title       string `json:"title"`
	FirstAuthor string `json:"first_author"`
	Year        int    `json:"year"`
	Journal     string `json:"journal"`
}

func (q Query) hasAuthorAndYear() bool {
	return strings.TrimSpace(q.FirstAuthor) != "" && q.Year > 0
}

// IsEmpty returns true if there is nothing to search on.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Title) == "" && strings.TrimSpace(q.FirstAuthor) == ""
}

// MatchResult is the accepted candidate together with how it was scored.
type MatchResult struct {
	Record      domain.CandidateRecord `json:"record"`
	Similarity  float64                `json:"similarity"`
	AuthorMatch bool                   `json:"author_match"`
	YearMatch   bool                   `json:"year_match"`
	Strategy    string                 `json:"strategy"`
}

// Config configures the resolver.
type Config struct {
	Thresholds Thresholds `mapstructure:"thresholds"`

	// EnableKeywordsOnly appends the unconstrained title-keyword strategy.
	EnableKeywordsOnly bool `mapstructure:"enable_keywords_only"`

	// Rows is the number of candidates requested per search.
	Rows int `mapstructure:"rows"`
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:         DefaultThresholds(),
		EnableKeywordsOnly: true,
		Rows:               DefaultRows,
	}
}

// Resolver runs the strategy list against a Searcher.
// It is safe for concurrent use.
type Resolver struct {
	searcher   papersources.Searcher
	strategies []Strategy
	thresholds Thresholds
	rows       int
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// New creates a Resolver. A nil metrics disables instrumentation.
func New(searcher papersources.Searcher, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Resolver {
	if cfg.Rows <= 0 {
		cfg.Rows = DefaultRows
	}
	return &Resolver{
		searcher:   searcher,
		strategies: Strategies(cfg.Thresholds, cfg.EnableKeywordsOnly),
		thresholds: cfg.Thresholds,
		rows:       cfg.Rows,
		logger:     logger.With().Str("component", "resolver").Logger(),
		metrics:    metrics,
	}
}

// Strategies returns the strategies in the order they are tried.
func (r *Resolver) Strategies() []Strategy {
	return append([]Strategy(nil), r.strategies...)
}

// Resolve returns the best match for q, or nil when no strategy accepted a
// candidate. A failed search skips to the next strategy; only context
// cancellation ends resolution with an error.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*MatchResult, error) {
	if q.IsEmpty() {
		return nil, domain.NewValidationError("query", "title or first author is required")
	}

	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query, ok := s.BuildQuery(q)
		if !ok {
			continue
		}

		r.metrics.RecordResolverAttempt(s.Name)
		res, err := r.searcher.Search(ctx, query, papersources.SearchOptions{
			Rows: r.rows,
			Sort: relevanceSort,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.metrics.RecordResolverSearchError(s.Name)
			r.logger.Warn().Err(err).
				Str("strategy", s.Name).
				Str("query", query).
				Msg("search failed, trying next strategy")
			continue
		}

		best := r.bestCandidate(q, res.Records)
		if best == nil {
			continue
		}
		if r.accepts(s, best) {
			best.Strategy = s.Name
			r.metrics.RecordResolverMatch(s.Name)
			r.logger.Debug().
				Str("strategy", s.Name).
				Float64("similarity", best.Similarity).
				Bool("author_match", best.AuthorMatch).
				Bool("year_match", best.YearMatch).
				Str("canonical_key", best.Record.Identifiers.CanonicalKey()).
				Msg("candidate accepted")
			return best, nil
		}

		r.logger.Debug().
			Str("strategy", s.Name).
			Float64("similarity", best.Similarity).
			Float64("threshold", s.MinSimilarity).
			Msg("best candidate below threshold")
	}

	r.metrics.RecordResolverNoMatch()
	return nil, nil
}

// Score computes the similarity and match flags of one candidate against q.
func Score(q Query, rec domain.CandidateRecord) MatchResult {
	return MatchResult{
		Record:      rec,
		Similarity:  TitleSimilarity(q.Title, rec.Title),
		AuthorMatch: authorPrefixMatch(q.FirstAuthor, rec.FirstAuthor()),
		YearMatch:   q.Year > 0 && rec.Year == q.Year,
	}
}

// bestCandidate returns the highest-similarity candidate. Ties keep the
// search service's ranking.
func (r *Resolver) bestCandidate(q Query, records []domain.CandidateRecord) *MatchResult {
	var best *MatchResult
	for _, rec := range records {
		m := Score(q, rec)
		if best == nil || m.Similarity > best.Similarity {
			best = &m
		}
	}
	return best
}

// accepts applies the acceptance rule: the strategy threshold, or agreement
// on author and year above the floor.
func (r *Resolver) accepts(s Strategy, m *MatchResult) bool {
	if m.Similarity >= s.MinSimilarity {
		return true
	}
	return m.AuthorMatch && m.YearMatch && m.Similarity >= r.thresholds.AuthorYearFloor
}
