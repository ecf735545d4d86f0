package librarysync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/events"
)

// DefaultRunHistory is the number of finished runs kept in memory.
const DefaultRunHistory = 100

// subscriberBuffer is the per-subscriber progress backlog. Updates to a
// full subscriber are dropped; the next one carries the newer count.
const subscriberBuffer = 16

// RunRecorder persists sync run records.
type RunRecorder interface {
	RecordSyncRun(ctx context.Context, run *domain.SyncRun) error
}

// RunState is a point-in-time view of one run.
type RunState struct {
	RunID    uuid.UUID            `json:"run_id"`
	Status   domain.SyncRunStatus `json:"status"`
	Progress Progress             `json:"progress"`
	Summary  *Summary             `json:"summary,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type activeRun struct {
	state  RunState
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[int]chan Progress
	nextID int
}

// Runner executes sync runs in the background, tracks their progress and
// fans it out to subscribers. Finished runs stay queryable until they age
// out of a bounded history.
type Runner struct {
	sync      *Synchronizer
	recorder  RunRecorder
	publisher events.Publisher
	logger    zerolog.Logger

	mu       sync.Mutex
	active   map[uuid.UUID]*activeRun
	finished *lru.Cache[uuid.UUID, RunState]
	wg       sync.WaitGroup
	closed   bool
}

// NewRunner creates a Runner. recorder and publisher may be nil.
func NewRunner(s *Synchronizer, recorder RunRecorder, publisher events.Publisher, history int, logger zerolog.Logger) (*Runner, error) {
	if history <= 0 {
		history = DefaultRunHistory
	}
	finished, err := lru.New[uuid.UUID, RunState](history)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		sync:      s,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger.With().Str("component", "sync_runner").Logger(),
		active:    make(map[uuid.UUID]*activeRun),
		finished:  finished,
	}, nil
}

// ErrRunnerClosed is returned by Start after Shutdown.
var ErrRunnerClosed = errors.New("sync runner is shut down")

// Start launches a run over papers and returns its id immediately. The run
// is not bound to ctx's cancellation; use Cancel or Shutdown to stop it.
func (r *Runner) Start(ctx context.Context, papers []*domain.Paper) (uuid.UUID, error) {
	return r.StartWith(ctx, papers, Overrides{})
}

// StartWith is Start with per-run overrides.
func (r *Runner) StartWith(ctx context.Context, papers []*domain.Paper, o Overrides) (uuid.UUID, error) {
	id := uuid.New()
	s := r.sync.With(o)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	if err := r.register(id, len(papers), cancel, true); err != nil {
		cancel()
		return uuid.Nil, err
	}

	go func() {
		defer r.wg.Done()
		defer cancel()
		_, _ = r.execute(runCtx, s, id, papers, nil)
	}()
	return id, nil
}

// Run executes a run in the foreground and returns its summary. progress,
// when set, receives every update; it is not closed.
func (r *Runner) Run(ctx context.Context, papers []*domain.Paper, progress chan<- Progress) (*Summary, error) {
	return r.RunWith(ctx, papers, Overrides{}, progress)
}

// RunWith is Run with per-run overrides.
func (r *Runner) RunWith(ctx context.Context, papers []*domain.Paper, o Overrides, progress chan<- Progress) (*Summary, error) {
	id := uuid.New()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.register(id, len(papers), cancel, false); err != nil {
		return nil, err
	}

	return r.execute(runCtx, r.sync.With(o), id, papers, progress)
}

// register tracks a new active run. background runs are counted for Shutdown.
func (r *Runner) register(id uuid.UUID, total int, cancel context.CancelFunc, background bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	r.active[id] = &activeRun{
		state: RunState{
			RunID:    id,
			Status:   domain.SyncRunStatusRunning,
			Progress: Progress{Total: total},
		},
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[int]chan Progress),
	}
	if background {
		r.wg.Add(1)
	}
	return nil
}

// execute runs the sync and settles the run. Progress is forwarded to
// forward, when set, before execute returns.
func (r *Runner) execute(ctx context.Context, s *Synchronizer, id uuid.UUID, papers []*domain.Paper, forward chan<- Progress) (*Summary, error) {
	logger := r.logger.With().Str("run_id", id.String()).Logger()

	if r.recorder != nil {
		started := &domain.SyncRun{ID: id, Status: domain.SyncRunStatusRunning, Total: len(papers), StartedAt: time.Now().UTC()}
		if err := r.recorder.RecordSyncRun(ctx, started); err != nil {
			logger.Warn().Err(err).Msg("failed to record sync run start")
		}
	}

	progress := make(chan Progress)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range progress {
			r.update(id, p)
			if forward != nil {
				select {
				case forward <- p:
				case <-ctx.Done():
				}
			}
		}
	}()

	summary, err := s.SyncRun(ctx, id, papers, progress)
	close(progress)
	<-drained

	status := domain.SyncRunStatusCompleted
	switch {
	case err != nil && isCancellation(err):
		status = domain.SyncRunStatusCancelled
	case err != nil:
		status = domain.SyncRunStatusFailed
	}

	persistCtx := context.WithoutCancel(ctx)
	if r.recorder != nil {
		if recErr := r.recorder.RecordSyncRun(persistCtx, summary.SyncRun(status)); recErr != nil {
			logger.Warn().Err(recErr).Msg("failed to record sync run result")
		}
	}
	if pubErr := r.publisher.PublishSyncCompleted(persistCtx, completedEvent(summary, status)); pubErr != nil {
		logger.Warn().Err(pubErr).Msg("failed to publish sync completed event")
	}

	state := RunState{
		RunID:    id,
		Status:   status,
		Progress: Progress{Current: summary.Total, Total: summary.Total, Description: string(status)},
		Summary:  summary,
	}
	if err != nil {
		state.Error = err.Error()
	}
	r.complete(id, state)
	return summary, err
}

func completedEvent(s *Summary, status domain.SyncRunStatus) events.SyncCompletedEvent {
	e := events.SyncCompletedEvent{
		RunID:      s.RunID.String(),
		Status:     string(status),
		Total:      s.Total,
		Updated:    s.Updated,
		Failed:     s.Failed,
		Skipped:    s.Skipped,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	for _, te := range s.Errors {
		e.Errors = append(e.Errors, events.EventError{PaperTitle: te.PaperTitle, Message: te.Message})
	}
	return e
}

func (r *Runner) update(id uuid.UUID, p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[id]
	if !ok {
		return
	}
	run.state.Progress = p
	for _, ch := range run.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (r *Runner) complete(id uuid.UUID, state RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[id]
	if !ok {
		return
	}
	delete(r.active, id)
	r.finished.Add(id, state)
	for sid, ch := range run.subs {
		close(ch)
		delete(run.subs, sid)
	}
	close(run.done)
}

// Get returns the state of a running or recently finished run.
func (r *Runner) Get(id uuid.UUID) (RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.active[id]; ok {
		return run.state, true
	}
	return r.finished.Get(id)
}

// Subscribe returns a channel of progress updates for an active run. The
// channel is closed when the run finishes or unsubscribe is called. ok is
// false when the run is not active.
func (r *Runner) Subscribe(id uuid.UUID) (updates <-chan Progress, unsubscribe func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, found := r.active[id]
	if !found {
		return nil, func() {}, false
	}

	sid := run.nextID
	run.nextID++
	ch := make(chan Progress, subscriberBuffer)
	run.subs[sid] = ch

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, exists := run.subs[sid]; exists {
				delete(run.subs, sid)
				close(c)
			}
		})
	}
	return ch, unsubscribe, true
}

// Cancel stops an active run. It reports whether the run was active.
func (r *Runner) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[id]
	if ok {
		run.cancel()
	}
	return ok
}

// Shutdown cancels every background run and waits for them to settle.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, run := range r.active {
		run.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the run finishes and returns its final state.
func (r *Runner) Wait(ctx context.Context, id uuid.UUID) (RunState, error) {
	r.mu.Lock()
	run, ok := r.active[id]
	if !ok {
		state, found := r.finished.Get(id)
		r.mu.Unlock()
		if !found {
			return RunState{}, domain.NewNotFoundError("sync run", id.String())
		}
		return state, nil
	}
	done := run.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return RunState{}, ctx.Err()
	}
	state, found := r.Get(id)
	if !found {
		return RunState{}, domain.NewNotFoundError("sync run", id.String())
	}
	return state, nil
}
