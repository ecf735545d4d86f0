package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// SyncSelection names the papers a sync run covers.
type SyncSelection struct {
	// PaperIDs selects specific papers. Empty means the library listing.
	PaperIDs []uuid.UUID

	// MissingPDFOnly drops papers that already have a stored PDF.
	MissingPDFOnly bool

	// Limit caps a library listing (default: 100, max: 1000). It does not
	// apply to explicit PaperIDs.
	Limit int
}

// ParsePaperIDs parses string ids, rejecting the first malformed one.
func ParsePaperIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, domain.NewValidationError("paper_ids", fmt.Sprintf("%q is not a valid UUID", s))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SelectForSync loads the papers sel names. When explicit ids match no
// stored paper it returns domain.ErrNotFound.
func SelectForSync(ctx context.Context, repo PaperRepository, sel SyncSelection) ([]*domain.Paper, error) {
	if len(sel.PaperIDs) == 0 {
		return repo.ListPapers(ctx, PaperFilter{MissingPDF: sel.MissingPDFOnly, Limit: sel.Limit})
	}

	papers, err := repo.GetPapers(ctx, sel.PaperIDs)
	if err != nil {
		return nil, err
	}
	if len(papers) == 0 {
		return nil, domain.NewNotFoundError("paper", sel.PaperIDs[0].String())
	}
	if !sel.MissingPDFOnly {
		return papers, nil
	}

	out := papers[:0]
	for _, p := range papers {
		if !p.HasPDF() {
			out = append(out, p)
		}
	}
	return out, nil
}
