package librarysync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// runTask enriches one paper and settles its outcome. Errors and panics
// fail only this task, except a credentials rejection, which also aborts
// the run.
func (s *Synchronizer) runTask(ctx context.Context, r *run, j job) {
	t := j.task
	logger := observability.WithPaperContext(r.logger, t.Paper.ID.String(), t.Paper.CanonicalKey())

	defer func() {
		if rec := recover(); rec != nil {
			t.markFailed(fmt.Errorf("enrichment panicked: %v", rec))
			logger.Error().Interface("panic", rec).Msg("enrichment panicked")
		}
	}()

	if err := s.enrich(ctx, r, j); err != nil {
		if ctx.Err() != nil {
			t.markSkipped(ReasonCancelled)
			return
		}
		t.markFailed(err)
		if errors.Is(err, domain.ErrUnauthorized) {
			r.abort(err)
			logger.Error().Err(err).Msg("credentials rejected, aborting batch")
			return
		}
		logger.Warn().Err(err).Msg("enrichment failed")
		return
	}
	t.markUpdated()
}

func (s *Synchronizer) enrich(ctx context.Context, r *run, j job) error {
	t := j.task
	p := t.Paper

	j.record.MergeInto(p)
	if j.bibtex != "" {
		p.BibTeX = j.bibtex
	}

	if id := t.ExternalID; id != "" {
		var refs, cits []domain.CandidateRecord
		g, gctx := errgroup.WithContext(ctx)
		g.Go(guarded(func() error {
			var err error
			if refs, err = s.remote.GetReferences(gctx, id); err != nil {
				return fmt.Errorf("fetching references: %w", err)
			}
			return nil
		}))
		g.Go(guarded(func() error {
			var err error
			if cits, err = s.remote.GetCitations(gctx, id); err != nil {
				return fmt.Errorf("fetching citations: %w", err)
			}
			return nil
		}))
		if err := g.Wait(); err != nil {
			return err
		}
		t.References, t.Citations = refs, cits
		t.linksFetched = true
	}

	if s.cfg.DownloadPDFs && s.acquirer != nil && !p.HasPDF() {
		s.acquirePDF(ctx, r, t)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	synced := s.now().UTC()
	p.LastSyncedAt = &synced
	return nil
}

// acquirePDF downloads a PDF for the task's paper. A failure is recorded
// on the task and does not fail it.
func (s *Synchronizer) acquirePDF(ctx context.Context, r *run, t *Task) {
	p := t.Paper
	dest := filepath.Join(s.cfg.PDFDir, pdfFileName(p)+".pdf")

	res, err := s.acquirer.Acquire(ctx, p, dest, acquisition.AcquireOptions{
		Priority:    s.cfg.SourcePriority,
		ProxyPrefix: s.cfg.ProxyPrefix,
	})
	if err != nil {
		t.PDFError = err.Error()
		r.logger.Info().Err(err).
			Str("canonical_key", p.CanonicalKey()).
			Msg("no PDF acquired")
		return
	}
	p.PDFPath = res.Path
	p.PDFSource = res.Source
}

// guarded converts a panic in fn into an error.
func guarded(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("enrichment panicked: %v", rec)
			}
		}()
		return fn()
	}
}

func pdfFileName(p *domain.Paper) string {
	key := p.CanonicalKey()
	if key == "" {
		return p.ID.String()
	}
	return unsafeFileChars.ReplaceAllString(key, "_")
}

// commit persists updated tasks. Commits run even after cancellation so
// finished enrichment is not lost.
func (s *Synchronizer) commit(ctx context.Context, r *run, jobs []job) {
	if s.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, j := range jobs {
		t := j.task
		if t.Outcome != domain.SyncOutcomeUpdated {
			continue
		}
		if err := s.save(ctx, t); err != nil {
			t.markFailed(err)
			r.logger.Error().Err(err).
				Str("canonical_key", t.Paper.CanonicalKey()).
				Msg("commit failed")
		}
	}
}

func (s *Synchronizer) save(ctx context.Context, t *Task) error {
	saved, err := s.store.UpsertPaper(ctx, t.Paper)
	if err != nil {
		return fmt.Errorf("saving paper: %w", err)
	}
	if saved != nil {
		t.Paper = saved
	}
	if !t.linksFetched {
		return nil
	}
	if err := s.store.RecordReferences(ctx, t.Paper.ID, t.References); err != nil {
		return fmt.Errorf("saving references: %w", err)
	}
	if err := s.store.RecordCitations(ctx, t.Paper.ID, t.Citations); err != nil {
		return fmt.Errorf("saving citations: %w", err)
	}
	return nil
}
