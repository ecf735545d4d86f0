package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// PaperRepository is the library store for tracked papers.
type PaperRepository interface {
	// UpsertPaper inserts the paper or replaces the row with the same ID.
	// A zero ID is assigned before insert. Returns the stored paper with
	// database timestamps. Returns domain.ErrAlreadyExists if one of the
	// paper's identifiers belongs to a different paper.
	UpsertPaper(ctx context.Context, paper *domain.Paper) (*domain.Paper, error)

	// GetPaper retrieves a paper by its internal UUID.
	// Returns domain.ErrNotFound if no matching paper exists.
	GetPaper(ctx context.Context, id uuid.UUID) (*domain.Paper, error)

	// GetPapers retrieves the papers with the given IDs. Missing IDs are
	// skipped.
	GetPapers(ctx context.Context, ids []uuid.UUID) ([]*domain.Paper, error)

	// GetPaperByExternalID retrieves a paper by one of its external identifiers.
	// Returns domain.ErrNotFound if no matching paper exists.
	GetPaperByExternalID(ctx context.Context, kind domain.IdentifierKind, value string) (*domain.Paper, error)

	// ListPapers retrieves papers matching the filter, newest first.
	ListPapers(ctx context.Context, filter PaperFilter) ([]*domain.Paper, error)

	// RecordReferences replaces the stored reference list of a paper.
	RecordReferences(ctx context.Context, paperID uuid.UUID, refs []domain.CandidateRecord) error

	// RecordCitations replaces the stored citation list of a paper.
	RecordCitations(ctx context.Context, paperID uuid.UUID, cits []domain.CandidateRecord) error

	// ListLinks returns a paper's stored references or citations in order.
	ListLinks(ctx context.Context, paperID uuid.UUID, kind LinkKind) ([]domain.CandidateRecord, error)
}

// LinkKind distinguishes a paper's outgoing references from incoming citations.
// These values must match the database enum paper_link_kind.
type LinkKind string

const (
	LinkKindReference LinkKind = "reference"
	LinkKindCitation  LinkKind = "citation"
)

// PaperFilter specifies criteria for listing papers.
type PaperFilter struct {
	// MissingPDF limits the result to papers without a stored PDF.
	MissingPDF bool

	// SyncedBefore limits the result to papers never synced or last synced
	// before this time (optional).
	SyncedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *PaperFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}

// SyncRunRepository keeps the history of sync runs.
type SyncRunRepository interface {
	// RecordSyncRun inserts the run or updates the row with the same ID.
	RecordSyncRun(ctx context.Context, run *domain.SyncRun) error

	// GetSyncRun retrieves a run by ID.
	// Returns domain.ErrNotFound if no matching run exists.
	GetSyncRun(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error)

	// ListSyncRuns returns the most recent runs, newest first.
	ListSyncRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error)
}
