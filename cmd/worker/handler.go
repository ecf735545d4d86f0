package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/events"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/repository"
)

// syncRunner runs one sync to completion.
type syncRunner interface {
	RunWith(ctx context.Context, papers []*domain.Paper, o librarysync.Overrides, progress chan<- librarysync.Progress) (*librarysync.Summary, error)
}

// newSyncRequestHandler selects the requested papers and runs them in the
// foreground so the listener commits the message only after the run ends.
func newSyncRequestHandler(papers repository.PaperRepository, runner syncRunner, logger zerolog.Logger) events.SyncRequestHandler {
	return func(ctx context.Context, req events.SyncRequested) error {
		ids, err := repository.ParsePaperIDs(req.PaperIDs)
		if err != nil {
			return fmt.Errorf("parse paper ids: %w", err)
		}

		selected, err := repository.SelectForSync(ctx, papers, repository.SyncSelection{
			PaperIDs:       ids,
			MissingPDFOnly: req.MissingPDFOnly,
			Limit:          req.Limit,
		})
		if err != nil {
			return fmt.Errorf("select papers: %w", err)
		}
		if len(selected) == 0 {
			logger.Info().Str("requested_by", req.RequestedBy).Msg("sync request matched no papers")
			return nil
		}

		summary, err := runner.RunWith(ctx, selected, librarysync.Overrides{DownloadPDFs: req.DownloadPDFs}, nil)
		if err != nil {
			return fmt.Errorf("run sync: %w", err)
		}

		logger.Info().
			Str("run_id", summary.RunID.String()).
			Str("requested_by", req.RequestedBy).
			Int("total", summary.Total).
			Int("updated", summary.Updated).
			Int("failed", summary.Failed).
			Int("skipped", summary.Skipped).
			Msg("sync request completed")
		return nil
	}
}
