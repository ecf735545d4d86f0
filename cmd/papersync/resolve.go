package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-sync-service/internal/resolver"
)

var errNoMatch = errors.New("no matching record")

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Find the canonical record for a partial citation",
	Long: `Resolve searches the bibliographic service with progressively looser
strategies and prints the first candidate that clears its strategy's
similarity threshold. It exits non-zero when nothing matches.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("title", "", "paper title")
	resolveCmd.Flags().String("author", "", "first author surname")
	resolveCmd.Flags().Int("year", 0, "publication year")
	resolveCmd.Flags().String("journal", "", "journal name")

	rootCmd.AddCommand(resolveCmd)
}

// resolveView is the printed form of a match.
type resolveView struct {
	Title       string   `json:"title" yaml:"title"`
	Authors     []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Year        int      `json:"year,omitempty" yaml:"year,omitempty"`
	Journal     string   `json:"journal,omitempty" yaml:"journal,omitempty"`
	Bibcode     string   `json:"bibcode,omitempty" yaml:"bibcode,omitempty"`
	DOI         string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	ArXivID     string   `json:"arxiv_id,omitempty" yaml:"arxiv_id,omitempty"`
	Similarity  float64  `json:"similarity" yaml:"similarity"`
	Strategy    string   `json:"strategy" yaml:"strategy"`
	AuthorMatch bool     `json:"author_match" yaml:"author_match"`
	YearMatch   bool     `json:"year_match" yaml:"year_match"`
}

func newResolveView(m *resolver.MatchResult) resolveView {
	r := m.Record
	return resolveView{
		Title:       r.Title,
		Authors:     r.Authors,
		Year:        r.Year,
		Journal:     r.Journal,
		Bibcode:     r.Identifiers.Bibcode,
		DOI:         r.Identifiers.DOI,
		ArXivID:     r.Identifiers.ArXivID,
		Similarity:  m.Similarity,
		Strategy:    m.Strategy,
		AuthorMatch: m.AuthorMatch,
		YearMatch:   m.YearMatch,
	}
}

func runResolve(cmd *cobra.Command, _ []string) error {
	title, _ := cmd.Flags().GetString("title")
	author, _ := cmd.Flags().GetString("author")
	year, _ := cmd.Flags().GetInt("year")
	journal, _ := cmd.Flags().GetString("journal")

	q := resolver.Query{
		Title:       strings.TrimSpace(title),
		FirstAuthor: strings.TrimSpace(author),
		Year:        year,
		Journal:     strings.TrimSpace(journal),
	}
	if q.IsEmpty() {
		return fmt.Errorf("provide --title or --author")
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	match, err := env.components.Resolver.Resolve(cmd.Context(), q)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	if match == nil {
		return errNoMatch
	}

	view := newResolveView(match)
	return render(cmd.OutOrStdout(), output, view, func(tw *tabwriter.Writer) {
		row(tw, "TITLE", view.Title)
		row(tw, "AUTHORS", orDash(strings.Join(view.Authors, "; ")))
		row(tw, "YEAR", view.Year)
		row(tw, "BIBCODE", orDash(view.Bibcode))
		row(tw, "DOI", orDash(view.DOI))
		row(tw, "ARXIV", orDash(view.ArXivID))
		row(tw, "STRATEGY", view.Strategy)
		row(tw, "SIMILARITY", fmt.Sprintf("%.3f", view.Similarity))
	})
}
