package main

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/events"
	"github.com/helixir/paper-sync-service/internal/librarysync"
	"github.com/helixir/paper-sync-service/internal/repository"
)

type stubPapers struct {
	repository.PaperRepository
	listFilter repository.PaperFilter
	papers     []*domain.Paper
}

func (s *stubPapers) ListPapers(_ context.Context, filter repository.PaperFilter) ([]*domain.Paper, error) {
	s.listFilter = filter
	return s.papers, nil
}

func (s *stubPapers) GetPapers(_ context.Context, ids []uuid.UUID) ([]*domain.Paper, error) {
	var out []*domain.Paper
	for _, p := range s.papers {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type stubRunner struct {
	papers    []*domain.Paper
	overrides librarysync.Overrides
	err       error
}

func (s *stubRunner) RunWith(_ context.Context, papers []*domain.Paper, o librarysync.Overrides, _ chan<- librarysync.Progress) (*librarysync.Summary, error) {
	s.papers = papers
	s.overrides = o
	if s.err != nil {
		return nil, s.err
	}
	return &librarysync.Summary{RunID: uuid.New(), Total: len(papers), Updated: len(papers)}, nil
}

func TestSyncRequestHandler_Library(t *testing.T) {
	repo := &stubPapers{papers: []*domain.Paper{{ID: uuid.New(), Title: "A"}, {ID: uuid.New(), Title: "B"}}}
	runner := &stubRunner{}
	handle := newSyncRequestHandler(repo, runner, zerolog.Nop())

	download := false
	err := handle(context.Background(), events.SyncRequested{MissingPDFOnly: true, Limit: 10, DownloadPDFs: &download})
	require.NoError(t, err)

	assert.Equal(t, repository.PaperFilter{MissingPDF: true, Limit: 10}, repo.listFilter)
	assert.Len(t, runner.papers, 2)
	require.NotNil(t, runner.overrides.DownloadPDFs)
	assert.False(t, *runner.overrides.DownloadPDFs)
}

func TestSyncRequestHandler_ExplicitIDs(t *testing.T) {
	wanted := &domain.Paper{ID: uuid.New(), Title: "Wanted"}
	repo := &stubPapers{papers: []*domain.Paper{wanted, {ID: uuid.New(), Title: "Other"}}}
	runner := &stubRunner{}
	handle := newSyncRequestHandler(repo, runner, zerolog.Nop())

	err := handle(context.Background(), events.SyncRequested{PaperIDs: []string{wanted.ID.String()}})
	require.NoError(t, err)
	assert.Equal(t, []*domain.Paper{wanted}, runner.papers)
	assert.Nil(t, runner.overrides.DownloadPDFs)
}

func TestSyncRequestHandler_Errors(t *testing.T) {
	t.Run("invalid id", func(t *testing.T) {
		runner := &stubRunner{}
		handle := newSyncRequestHandler(&stubPapers{}, runner, zerolog.Nop())

		err := handle(context.Background(), events.SyncRequested{PaperIDs: []string{"nope"}})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Nil(t, runner.papers)
	})

	t.Run("unknown ids", func(t *testing.T) {
		handle := newSyncRequestHandler(&stubPapers{}, &stubRunner{}, zerolog.Nop())

		err := handle(context.Background(), events.SyncRequested{PaperIDs: []string{uuid.NewString()}})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("empty library is not an error", func(t *testing.T) {
		runner := &stubRunner{}
		handle := newSyncRequestHandler(&stubPapers{}, runner, zerolog.Nop())

		require.NoError(t, handle(context.Background(), events.SyncRequested{}))
		assert.Nil(t, runner.papers)
	})

	t.Run("run failure", func(t *testing.T) {
		runner := &stubRunner{err: librarysync.ErrRunnerClosed}
		repo := &stubPapers{papers: []*domain.Paper{{ID: uuid.New()}}}
		handle := newSyncRequestHandler(repo, runner, zerolog.Nop())

		err := handle(context.Background(), events.SyncRequested{})
		assert.True(t, errors.Is(err, librarysync.ErrRunnerClosed))
	})
}
