// Package librarysync refreshes a batch of library papers against a
// bibliographic service.
//
// Papers with a canonical id are looked up in bulk, enriched in concurrent
// windows and committed per window. Papers with only a DOI or preprint id
// are looked up one at a time. Papers without any identifier are skipped
// unless the synchronizer has a resolver and ResolveUnidentified is set.
package librarysync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/observability"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// Acquirer downloads a PDF for a paper.
type Acquirer interface {
	Acquire(ctx context.Context, p *domain.Paper, dest string, opts acquisition.AcquireOptions) (*acquisition.Result, error)
}

// Resolver finds the canonical record for partial metadata.
type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query) (*resolver.MatchResult, error)
}

// Store persists the outcome of updated papers.
type Store interface {
	UpsertPaper(ctx context.Context, p *domain.Paper) (*domain.Paper, error)
	RecordReferences(ctx context.Context, paperID uuid.UUID, refs []domain.CandidateRecord) error
	RecordCitations(ctx context.Context, paperID uuid.UUID, cits []domain.CandidateRecord) error
}

// Synchronizer runs sync batches. It is safe for concurrent use; each Sync
// call owns its own tasks.
type Synchronizer struct {
	remote   papersources.Remote
	acquirer Acquirer
	store    Store
	resolver Resolver
	cfg      Config
	logger   zerolog.Logger
	metrics  *observability.Metrics
	sleep    SleepFunc
	now      func() time.Time
}

// New creates a Synchronizer. acquirer and store may be nil; without an
// acquirer no PDFs are downloaded, and without a store nothing is persisted.
func New(remote papersources.Remote, acquirer Acquirer, store Store, cfg Config, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		remote:   remote,
		acquirer: acquirer,
		store:    store,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "library_sync").Logger(),
		metrics:  metrics,
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Synchronizer) Config() Config {
	return s.cfg
}

// Overrides adjust a single run without reconfiguring the synchronizer.
type Overrides struct {
	// DownloadPDFs replaces Config.DownloadPDFs when set.
	DownloadPDFs *bool
}

// With returns a synchronizer sharing s's collaborators with o applied.
func (s *Synchronizer) With(o Overrides) *Synchronizer {
	if o.DownloadPDFs == nil {
		return s
	}
	c := *s
	c.cfg.DownloadPDFs = *o.DownloadPDFs
	return &c
}

// run holds the state of one Sync call.
type run struct {
	id       uuid.UUID
	tasks    []*Task
	progress chan<- Progress
	current  int
	logger   zerolog.Logger

	mu    sync.Mutex
	fatal error
}

// abort records the first batch-fatal error raised by a task.
func (r *run) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *run) aborted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

// Sync refreshes papers and returns a summary in which every paper has
// exactly one outcome. Sync returns a non-nil error only when the batch
// could not continue: the context was cancelled or the service rejected
// the credentials. The summary is complete in both cases.
func (s *Synchronizer) Sync(ctx context.Context, papers []*domain.Paper, progress chan<- Progress) (*Summary, error) {
	return s.SyncRun(ctx, uuid.New(), papers, progress)
}

// SyncRun is Sync with a caller-chosen run id.
func (s *Synchronizer) SyncRun(ctx context.Context, runID uuid.UUID, papers []*domain.Paper, progress chan<- Progress) (*Summary, error) {
	started := s.now()
	r := &run{
		id:       runID,
		tasks:    make([]*Task, len(papers)),
		progress: progress,
		logger:   observability.WithSyncContext(s.logger, runID.String(), len(papers)),
	}
	for i, p := range papers {
		r.tasks[i] = &Task{Paper: p.Clone()}
	}

	s.metrics.RecordSyncStarted()
	r.logger.Info().Msg("sync started")

	bulk, secondary, unidentified := partition(r.tasks)

	err := s.syncBulk(ctx, r, bulk)
	if err == nil {
		err = s.syncSecondary(ctx, r, secondary)
	}
	if err == nil {
		err = s.syncUnidentified(ctx, r, unidentified)
	}
	if err == nil {
		err = ctx.Err()
	}

	summary := s.finish(r, started, err)
	return summary, err
}

// partition splits tasks by the lookup path their identifiers allow.
func partition(tasks []*Task) (bulk, secondary, unidentified []*Task) {
	for _, t := range tasks {
		ids := t.Paper.Identifiers.Normalize()
		switch {
		case ids.Bibcode != "":
			t.ExternalID = ids.Bibcode
			bulk = append(bulk, t)
		case ids.DOI != "" || ids.ArXivID != "":
			secondary = append(secondary, t)
		default:
			unidentified = append(unidentified, t)
		}
	}
	return bulk, secondary, unidentified
}

// finish settles any task left without an outcome and builds the summary.
func (s *Synchronizer) finish(r *run, started time.Time, err error) *Summary {
	var fatal error
	if err != nil && !isCancellation(err) {
		fatal = err
	}

	summary := &Summary{
		RunID:     r.id,
		Total:     len(r.tasks),
		Tasks:     r.tasks,
		StartedAt: started,
	}
	for _, t := range r.tasks {
		if !t.done() {
			if fatal != nil {
				t.markFailed(fmt.Errorf("batch aborted: %w", fatal))
			} else {
				t.markSkipped(ReasonCancelled)
			}
		}
		switch t.Outcome {
		case domain.SyncOutcomeUpdated:
			summary.Updated++
		case domain.SyncOutcomeFailed:
			summary.Failed++
			summary.Errors = append(summary.Errors, TaskError{
				PaperTitle: t.Paper.Title,
				Message:    t.ErrorMessage(),
			})
		default:
			summary.Skipped++
		}
		s.metrics.RecordSyncOutcome(string(t.Outcome))
	}
	summary.FinishedAt = s.now()

	duration := summary.FinishedAt.Sub(started)
	s.metrics.RecordSyncFinished(duration.Seconds())

	event := r.logger.Info()
	if err != nil {
		event = r.logger.Warn().Err(err)
	}
	event.
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", duration).
		Msg("sync finished")
	return summary
}

// emit reports progress. It blocks until the receiver takes the update or
// ctx is done.
func (s *Synchronizer) emit(ctx context.Context, r *run, advanced int, description string) {
	r.current += advanced
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- Progress{Current: r.current, Total: len(r.tasks), Description: description}:
	case <-ctx.Done():
	}
}

// withRetry runs fn, retrying server-side failures with a linear backoff.
func (s *Synchronizer) withRetry(ctx context.Context, r *run, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsServerError(err) || attempt >= s.cfg.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := time.Duration(attempt+1) * s.cfg.BackoffUnit
		s.metrics.RecordSyncBatchRetry()
		r.logger.Warn().Err(err).
			Str("operation", op).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("server error, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrCancelled)
}

// isFatal reports whether err must end the whole batch.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, domain.ErrUnauthorized)
}

func fatalError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
