package librarysync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/events"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []domain.SyncRun
}

func (f *fakeRecorder) RecordSyncRun(_ context.Context, run *domain.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRecorder) statuses() []domain.SyncRunStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SyncRunStatus, len(f.runs))
	for i, r := range f.runs {
		out[i] = r.Status
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.SyncCompletedEvent
	err    error
}

func (f *fakePublisher) PublishSyncCompleted(_ context.Context, e events.SyncCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakePublisher) Close() error { return nil }

func newTestRunner(t *testing.T, remote *fakeRemote, rec RunRecorder, pub events.Publisher) *Runner {
	t.Helper()
	s, _ := newTestSync(remote, DefaultConfig())
	r, err := NewRunner(s, rec, pub, 10, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestRunner_StartTracksRunToCompletion(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	r := newTestRunner(t, remote, rec, pub)

	id, err := r.Start(context.Background(), []*domain.Paper{
		paper("a", domain.Identifiers{Bibcode: "A"}),
		paper("n", domain.Identifiers{}),
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := r.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncRunStatusCompleted, state.Status)
	require.NotNil(t, state.Summary)
	assert.Equal(t, id, state.Summary.RunID)
	assert.Equal(t, 1, state.Summary.Updated)
	assert.Equal(t, 1, state.Summary.Skipped)
	assert.Equal(t, 2, state.Progress.Current)

	assert.Equal(t, []domain.SyncRunStatus{domain.SyncRunStatusRunning, domain.SyncRunStatusCompleted}, rec.statuses())
	require.Len(t, pub.events, 1)
	assert.Equal(t, id.String(), pub.events[0].RunID)
	assert.Equal(t, "completed", pub.events[0].Status)

	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.SyncRunStatusCompleted, got.Status)
}

func TestRunner_RunForwardsProgress(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a"), record("B", "b")}}
	r := newTestRunner(t, remote, nil, nil)

	progress := make(chan Progress, 8)
	summary, err := r.Run(context.Background(), []*domain.Paper{
		paper("a", domain.Identifiers{Bibcode: "A"}),
		paper("b", domain.Identifiers{Bibcode: "B"}),
	}, progress)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)

	require.Len(t, progress, 1)
	p := <-progress
	assert.Equal(t, 2, p.Current)
	assert.Equal(t, 2, p.Total)

	state, ok := r.Get(summary.RunID)
	require.True(t, ok)
	assert.Equal(t, domain.SyncRunStatusCompleted, state.Status)
}

func TestRunner_PublishFailureDoesNotFailRun(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	r := newTestRunner(t, remote, nil, &fakePublisher{err: errors.New("broker down")})

	summary, err := r.Run(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
}

// blockingRemote holds every reference lookup until release is closed.
type blockingRemote struct {
	*fakeRemote
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRemote) GetReferences(ctx context.Context, id string) ([]domain.CandidateRecord, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.fakeRemote.GetReferences(ctx, id)
}

func TestRunner_CancelAndSubscribe(t *testing.T) {
	remote := &blockingRemote{
		fakeRemote: &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}},
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	s, _ := newTestSync(remote, DefaultConfig())
	rec := &fakeRecorder{}
	r, err := NewRunner(s, rec, nil, 10, zerolog.Nop())
	require.NoError(t, err)

	id, err := r.Start(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})})
	require.NoError(t, err)

	updates, unsubscribe, ok := r.Subscribe(id)
	require.True(t, ok)
	defer unsubscribe()

	<-remote.entered
	state, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.SyncRunStatusRunning, state.Status)

	require.True(t, r.Cancel(id))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := r.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncRunStatusCancelled, final.Status)
	assert.Equal(t, 1, final.Summary.Skipped)

	for range updates {
	}
	assert.False(t, r.Cancel(id))
	assert.Equal(t, domain.SyncRunStatusCancelled, rec.statuses()[1])
}

func TestRunner_ShutdownRejectsNewRuns(t *testing.T) {
	r := newTestRunner(t, &fakeRemote{}, nil, nil)
	require.NoError(t, r.Shutdown(context.Background()))

	_, err := r.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRunner_UnknownRun(t *testing.T) {
	r := newTestRunner(t, &fakeRemote{}, nil, nil)

	_, ok := r.Get(uuid.New())
	assert.False(t, ok)

	_, _, ok = r.Subscribe(uuid.New())
	assert.False(t, ok)

	_, err := r.Wait(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
