package librarysync

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// job is a task paired with the remote record it will be enriched from.
type job struct {
	task   *Task
	record domain.CandidateRecord
	bibtex string
}

// syncBulk handles papers with a canonical id.
func (s *Synchronizer) syncBulk(ctx context.Context, r *run, tasks []*Task) error {
	for start := 0; start < len(tasks); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk := tasks[start:min(start+s.cfg.BatchSize, len(tasks))]
		ids := make([]string, len(chunk))
		for i, t := range chunk {
			ids[i] = t.ExternalID
		}

		records, err := s.lookupBatch(ctx, r, ids)
		if err != nil {
			if isFatal(ctx, err) {
				return fatalError(ctx, err)
			}
			r.logger.Error().Err(err).Int("batch_size", len(chunk)).Msg("batch lookup failed")
			for _, t := range chunk {
				t.markFailed(fmt.Errorf("batch lookup: %w", err))
			}
			s.emit(ctx, r, len(chunk), "batch lookup failed")
			continue
		}

		exports := s.exportBatch(ctx, r, ids)

		jobs := make([]job, 0, len(chunk))
		missing := 0
		for _, t := range chunk {
			rec, ok := records[t.ExternalID]
			if !ok {
				t.markSkipped(ReasonNotFound)
				missing++
				continue
			}
			jobs = append(jobs, job{task: t, record: rec, bibtex: exports[t.ExternalID]})
		}
		if missing > 0 {
			s.emit(ctx, r, missing, fmt.Sprintf("%d papers not found", missing))
		}

		if err := s.runWindows(ctx, r, jobs); err != nil {
			return err
		}
	}
	return nil
}

// lookupBatch runs one OR-combined id query and maps the results by id.
func (s *Synchronizer) lookupBatch(ctx context.Context, r *run, ids []string) (map[string]domain.CandidateRecord, error) {
	query := papersources.OrQuery(string(domain.IdentifierBibcode), ids)

	var res *papersources.SearchResult
	err := s.withRetry(ctx, r, "batch_lookup", func() error {
		var err error
		res, err = s.remote.Search(ctx, query, papersources.SearchOptions{Rows: len(ids)})
		return err
	})
	if err != nil {
		return nil, err
	}

	records := make(map[string]domain.CandidateRecord, len(res.Records))
	for _, rec := range res.Records {
		if id := rec.Identifiers.Normalize().Bibcode; id != "" {
			records[id] = rec
		}
	}
	return records, nil
}

// exportBatch fetches and splits the citation export for ids. Failures
// leave the papers' stored BibTeX untouched.
func (s *Synchronizer) exportBatch(ctx context.Context, r *run, ids []string) map[string]string {
	var blob string
	err := s.withRetry(ctx, r, "export", func() error {
		var err error
		blob, err = s.remote.ExportCitations(ctx, ids)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.RecordSyncExportFallback()
			r.logger.Warn().Err(err).Int("ids", len(ids)).Msg("citation export failed, keeping stored entries")
		}
		return nil
	}

	exports := splitExport(blob, ids)
	if unmatched := len(ids) - len(exports); unmatched > 0 {
		s.metrics.RecordSyncExportFallback()
		r.logger.Debug().Int("unmatched", unmatched).Msg("export entries not attributed")
	}
	return exports
}

// runWindows enriches jobs in windows of at most Concurrency tasks. A
// window is committed and reported before the next one starts.
func (s *Synchronizer) runWindows(ctx context.Context, r *run, jobs []job) error {
	for start := 0; start < len(jobs); start += s.cfg.Concurrency {
		if err := ctx.Err(); err != nil {
			return err
		}
		if start > 0 {
			if err := s.sleep(ctx, s.cfg.WindowPause); err != nil {
				return err
			}
		}

		window := jobs[start:min(start+s.cfg.Concurrency, len(jobs))]

		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for _, j := range window {
			g.Go(func() error {
				s.runTask(ctx, r, j)
				return nil
			})
		}
		_ = g.Wait()

		s.commit(ctx, r, window)
		s.emit(ctx, r, len(window), fmt.Sprintf("processed %d of %d", r.current+len(window), len(r.tasks)))
		if err := r.aborted(); err != nil {
			return err
		}
	}
	return nil
}

// syncSecondary handles papers with only a DOI or preprint id, one at a time.
func (s *Synchronizer) syncSecondary(ctx context.Context, r *run, tasks []*Task) error {
	for i, t := range tasks {
		if err := s.pace(ctx, i); err != nil {
			return err
		}

		query := secondaryQuery(t.Paper.Identifiers.Normalize())
		rec, err := s.lookupOne(ctx, r, query)
		if err != nil {
			if isFatal(ctx, err) {
				return fatalError(ctx, err)
			}
			t.markFailed(fmt.Errorf("lookup: %w", err))
			s.emit(ctx, r, 1, t.Paper.Title)
			continue
		}
		if rec == nil {
			t.markSkipped(ReasonNotFound)
			s.emit(ctx, r, 1, t.Paper.Title)
			continue
		}

		if err := s.processSingle(ctx, r, t, *rec); err != nil {
			return err
		}
	}
	return nil
}

// syncUnidentified resolves papers without identifiers when enabled and
// skips them otherwise.
func (s *Synchronizer) syncUnidentified(ctx context.Context, r *run, tasks []*Task) error {
	if !s.cfg.ResolveUnidentified || s.resolver == nil {
		for _, t := range tasks {
			t.markSkipped(ReasonNoIdentifier)
		}
		if len(tasks) > 0 {
			s.emit(ctx, r, len(tasks), fmt.Sprintf("%d papers without identifier", len(tasks)))
		}
		return nil
	}

	for i, t := range tasks {
		if err := s.pace(ctx, i); err != nil {
			return err
		}

		match, err := s.resolver.Resolve(ctx, resolver.Query{
			Title:       t.Paper.Title,
			FirstAuthor: t.Paper.FirstAuthor(),
			Year:        t.Paper.Year,
			Journal:     t.Paper.Journal,
		})
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, domain.ErrInvalidInput):
			t.markSkipped(ReasonNoIdentifier)
		case err != nil:
			t.markFailed(fmt.Errorf("resolve: %w", err))
		case match == nil:
			t.markSkipped(ReasonNoMatch)
		}
		if t.done() {
			s.emit(ctx, r, 1, t.Paper.Title)
			continue
		}

		t.ExternalID = match.Record.Identifiers.Bibcode
		if err := s.processSingle(ctx, r, t, match.Record); err != nil {
			return err
		}
	}
	return nil
}

// processSingle exports, enriches and commits one individually looked-up
// paper. It returns the run's fatal error when the task aborted the batch.
func (s *Synchronizer) processSingle(ctx context.Context, r *run, t *Task, rec domain.CandidateRecord) error {
	var bibtex string
	if id := rec.Identifiers.Normalize().Bibcode; id != "" {
		t.ExternalID = id
		bibtex = s.exportBatch(ctx, r, []string{id})[id]
	}

	j := job{task: t, record: rec, bibtex: bibtex}
	s.runTask(ctx, r, j)
	s.commit(ctx, r, []job{j})
	s.emit(ctx, r, 1, t.Paper.Title)
	return r.aborted()
}

// lookupOne returns the first record for query, or nil when there is none.
func (s *Synchronizer) lookupOne(ctx context.Context, r *run, query string) (*domain.CandidateRecord, error) {
	var res *papersources.SearchResult
	err := s.withRetry(ctx, r, "lookup", func() error {
		var err error
		res, err = s.remote.Search(ctx, query, papersources.SearchOptions{Rows: 1})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	return &res.Records[0], nil
}

// pace applies InterPaperDelay before every paper but the first.
func (s *Synchronizer) pace(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i == 0 {
		return nil
	}
	return s.sleep(ctx, s.cfg.InterPaperDelay)
}

// secondaryQuery builds the lookup query for a paper without canonical id.
func secondaryQuery(ids domain.Identifiers) string {
	if ids.DOI != "" {
		return papersources.FieldPhrase("doi", ids.DOI)
	}
	return papersources.FieldPhrase("identifier", "arXiv:"+ids.ArXivID)
}
