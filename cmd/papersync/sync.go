package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-sync-service/internal/app"
	"github.com/helixir/paper-sync-service/internal/database"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/repository"
)

var syncCmd = &cobra.Command{
	Use:   "sync [paper-ids...]",
	Short: "Refresh library papers against the bibliographic service",
	Long: `Sync refreshes metadata, BibTeX, references and citations for the given
papers, or for the whole library when no ids are given, and downloads
missing PDFs. The run is recorded in the sync run history like runs started
through the API.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Bool("missing-pdf", false, "only papers without a stored PDF")
	syncCmd.Flags().Int("limit", 0, "maximum number of library papers (0 = no limit)")
	syncCmd.Flags().Bool("no-download", false, "refresh metadata only")

	rootCmd.AddCommand(syncCmd)
}

// syncView is the printed outcome of a run.
type syncView struct {
	RunID    string          `json:"run_id" yaml:"run_id"`
	Total    int             `json:"total" yaml:"total"`
	Updated  int             `json:"updated" yaml:"updated"`
	Failed   int             `json:"failed" yaml:"failed"`
	Skipped  int             `json:"skipped" yaml:"skipped"`
	Duration string          `json:"duration" yaml:"duration"`
	Errors   []syncErrorView `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type syncErrorView struct {
	Paper   string `json:"paper" yaml:"paper"`
	Message string `json:"message" yaml:"message"`
}

func newSyncView(s *librarysync.Summary) syncView {
	v := syncView{
		RunID:    s.RunID.String(),
		Total:    s.Total,
		Updated:  s.Updated,
		Failed:   s.Failed,
		Skipped:  s.Skipped,
		Duration: s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
	}
	for _, e := range s.Errors {
		v.Errors = append(v.Errors, syncErrorView{Paper: e.PaperTitle, Message: e.Message})
	}
	return v
}

func runSync(cmd *cobra.Command, args []string) error {
	missingPDF, _ := cmd.Flags().GetBool("missing-pdf")
	limit, _ := cmd.Flags().GetInt("limit")
	noDownload, _ := cmd.Flags().GetBool("no-download")

	ids, err := repository.ParsePaperIDs(args)
	if err != nil {
		return err
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, err := database.New(ctx, &env.cfg.Database, env.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	paperRepo := repository.NewPgPaperRepository(db)
	papers, err := repository.SelectForSync(ctx, paperRepo, repository.SyncSelection{
		PaperIDs:       ids,
		MissingPDFOnly: missingPDF,
		Limit:          limit,
	})
	if err != nil {
		return fmt.Errorf("select papers: %w", err)
	}
	if len(papers) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no papers match the selection")
		return nil
	}

	publisher := app.NewPublisher(env.cfg, env.logger)
	defer publisher.Close()

	synchronizer := env.components.Synchronizer(env.cfg, paperRepo, env.logger, nil)
	runner, err := librarysync.NewRunner(synchronizer, repository.NewPgSyncRunRepository(db), publisher, 1, env.logger)
	if err != nil {
		return fmt.Errorf("create sync runner: %w", err)
	}

	var overrides librarysync.Overrides
	if noDownload {
		download := false
		overrides.DownloadPDFs = &download
	}

	progress := make(chan librarysync.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printSyncProgress(cmd.ErrOrStderr(), progress)
	}()

	summary, runErr := runner.RunWith(ctx, papers, overrides, progress)
	close(progress)
	<-done

	if summary != nil {
		view := newSyncView(summary)
		if err := render(cmd.OutOrStdout(), output, view, func(tw *tabwriter.Writer) {
			row(tw, "RUN", view.RunID)
			row(tw, "TOTAL", view.Total)
			row(tw, "UPDATED", view.Updated)
			row(tw, "FAILED", view.Failed)
			row(tw, "SKIPPED", view.Skipped)
			row(tw, "DURATION", view.Duration)
			for _, e := range view.Errors {
				row(tw, "ERROR", e.Paper+": "+e.Message)
			}
		}); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("sync: %w", runErr)
	}
	return nil
}

func printSyncProgress(w io.Writer, updates <-chan librarysync.Progress) {
	for p := range updates {
		fmt.Fprintf(w, "[%d/%d] %s\n", p.Current, p.Total, p.Description)
	}
}
