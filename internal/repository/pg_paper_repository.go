package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// PostgreSQL error codes handled by the store.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// paperColumns is the SELECT list matching paperScanDest.destinations.
const paperColumns = `p.id, COALESCE(p.bibcode, ''), COALESCE(p.doi, ''), COALESCE(p.arxiv_id, ''),
			p.title, p.authors, COALESCE(p.year, 0), COALESCE(p.journal, ''), COALESCE(p.abstract, ''),
			p.citation_count, COALESCE(p.bibtex, ''), COALESCE(p.pdf_path, ''), COALESCE(p.pdf_source::text, ''),
			p.last_synced_at, p.created_at, p.updated_at`

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// UpsertPaper inserts the paper or replaces the row with the same ID.
func (r *PgPaperRepository) UpsertPaper(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	if paper == nil {
		return nil, domain.NewValidationError("paper", "paper cannot be nil")
	}

	saved := paper.Clone()
	saved.Identifiers = saved.Identifiers.Normalize()
	if saved.ID == uuid.Nil {
		saved.ID = uuid.New()
	}

	authorsJSON, err := marshalAuthors(saved.Authors)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO papers (
			id, bibcode, doi, arxiv_id, title, authors, year, journal, abstract,
			citation_count, bibtex, pdf_path, pdf_source, last_synced_at,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, 0), NULLIF($8, ''), NULLIF($9, ''),
			$10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, '')::pdf_source, $14,
			$15, $15
		)
		ON CONFLICT (id) DO UPDATE SET
			bibcode = EXCLUDED.bibcode,
			doi = EXCLUDED.doi,
			arxiv_id = EXCLUDED.arxiv_id,
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			year = EXCLUDED.year,
			journal = EXCLUDED.journal,
			abstract = EXCLUDED.abstract,
			citation_count = EXCLUDED.citation_count,
			bibtex = EXCLUDED.bibtex,
			pdf_path = EXCLUDED.pdf_path,
			pdf_source = EXCLUDED.pdf_source,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		saved.ID,
		saved.Identifiers.Bibcode,
		saved.Identifiers.DOI,
		saved.Identifiers.ArXivID,
		saved.Title,
		authorsJSON,
		saved.Year,
		saved.Journal,
		saved.Abstract,
		saved.CitationCount,
		saved.BibTeX,
		saved.PDFPath,
		string(saved.PDFSource),
		saved.LastSyncedAt,
		time.Now().UTC(),
	).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, domain.NewAlreadyExistsError("paper identifier", saved.CanonicalKey())
		}
		return nil, fmt.Errorf("failed to upsert paper: %w", err)
	}

	return saved, nil
}

// GetPaper retrieves a paper by its UUID.
func (r *PgPaperRepository) GetPaper(ctx context.Context, id uuid.UUID) (*domain.Paper, error) {
	query := `SELECT ` + paperColumns + ` FROM papers p WHERE p.id = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", id.String())
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	return paper, nil
}

// GetPapers retrieves the papers with the given IDs.
func (r *PgPaperRepository) GetPapers(ctx context.Context, ids []uuid.UUID) ([]*domain.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + paperColumns + ` FROM papers p WHERE p.id = ANY($1) ORDER BY p.created_at`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get papers: %w", err)
	}
	return collectPapers(rows, len(ids))
}

// GetPaperByExternalID retrieves a paper by one of its external identifiers.
func (r *PgPaperRepository) GetPaperByExternalID(ctx context.Context, kind domain.IdentifierKind, value string) (*domain.Paper, error) {
	column, ok := identifierColumns[kind]
	if !ok {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown identifier kind %q", kind))
	}
	value = normalizeIdentifier(kind, value)
	if value == "" {
		return nil, domain.NewValidationError("value", "identifier value is required")
	}

	query := `SELECT ` + paperColumns + ` FROM papers p WHERE p.` + column + ` = $1`

	paper, err := scanPaper(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("paper", string(kind)+":"+value)
		}
		return nil, fmt.Errorf("failed to get paper by %s: %w", kind, err)
	}
	return paper, nil
}

// identifierColumns maps identifier kinds to their papers column.
var identifierColumns = map[domain.IdentifierKind]string{
	domain.IdentifierBibcode: "bibcode",
	domain.IdentifierDOI:     "doi",
	domain.IdentifierArXiv:   "arxiv_id",
}

func normalizeIdentifier(kind domain.IdentifierKind, value string) string {
	var ids domain.Identifiers
	switch kind {
	case domain.IdentifierBibcode:
		ids.Bibcode = value
	case domain.IdentifierDOI:
		ids.DOI = value
	case domain.IdentifierArXiv:
		ids.ArXivID = value
	}
	return ids.Normalize().Get(kind)
}

// ListPapers retrieves papers matching the filter criteria.
func (r *PgPaperRepository) ListPapers(ctx context.Context, filter PaperFilter) ([]*domain.Paper, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if filter.MissingPDF {
		conditions = append(conditions, "p.pdf_path IS NULL")
	}

	if filter.SyncedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("(p.last_synced_at IS NULL OR p.last_synced_at < $%d)", argIndex))
		args = append(args, *filter.SyncedBefore)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM papers p
		%s
		ORDER BY p.created_at DESC
		LIMIT $%d OFFSET $%d`,
		paperColumns, whereClause, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	return collectPapers(rows, filter.Limit)
}

// RecordReferences replaces the stored reference list of a paper.
func (r *PgPaperRepository) RecordReferences(ctx context.Context, paperID uuid.UUID, refs []domain.CandidateRecord) error {
	return r.replaceLinks(ctx, paperID, LinkKindReference, refs)
}

// RecordCitations replaces the stored citation list of a paper.
func (r *PgPaperRepository) RecordCitations(ctx context.Context, paperID uuid.UUID, cits []domain.CandidateRecord) error {
	return r.replaceLinks(ctx, paperID, LinkKindCitation, cits)
}

// replaceLinks deletes and re-inserts a link list in one batch, which the
// server runs as a single implicit transaction.
func (r *PgPaperRepository) replaceLinks(ctx context.Context, paperID uuid.UUID, kind LinkKind, records []domain.CandidateRecord) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM paper_links WHERE paper_id = $1 AND kind = $2`, paperID, kind)

	for i, rec := range records {
		authorsJSON, err := marshalAuthors(rec.Authors)
		if err != nil {
			return err
		}
		ids := rec.Identifiers.Normalize()
		batch.Queue(`
			INSERT INTO paper_links (
				paper_id, kind, position, title, authors, year,
				bibcode, doi, arxiv_id, citation_count
			) VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)`,
			paperID, kind, i, rec.Title, authorsJSON, rec.Year,
			ids.Bibcode, ids.DOI, ids.ArXivID, rec.CitationCount,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
				return domain.NewNotFoundError("paper", paperID.String())
			}
			return fmt.Errorf("failed to record %ss: %w", kind, err)
		}
	}
	return nil
}

// ListLinks returns a paper's stored references or citations in order.
func (r *PgPaperRepository) ListLinks(ctx context.Context, paperID uuid.UUID, kind LinkKind) ([]domain.CandidateRecord, error) {
	query := `
		SELECT title, authors, COALESCE(year, 0), COALESCE(bibcode, ''), COALESCE(doi, ''),
			COALESCE(arxiv_id, ''), citation_count
		FROM paper_links
		WHERE paper_id = $1 AND kind = $2
		ORDER BY position`

	rows, err := r.db.Query(ctx, query, paperID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %ss: %w", kind, err)
	}
	defer rows.Close()

	var out []domain.CandidateRecord
	for rows.Next() {
		var (
			rec         domain.CandidateRecord
			authorsJSON []byte
		)
		if err := rows.Scan(&rec.Title, &authorsJSON, &rec.Year, &rec.Identifiers.Bibcode,
			&rec.Identifiers.DOI, &rec.Identifiers.ArXivID, &rec.CitationCount); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		if rec.Authors, err = unmarshalAuthors(authorsJSON); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %ss: %w", kind, err)
	}
	return out, nil
}

func marshalAuthors(authors []string) ([]byte, error) {
	if authors == nil {
		authors = []string{}
	}
	b, err := json.Marshal(authors)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	return b, nil
}

func unmarshalAuthors(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var authors []string
	if err := json.Unmarshal(b, &authors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
	}
	if len(authors) == 0 {
		return nil, nil
	}
	return authors, nil
}

// paperScanDest holds the destination pointers for scanning a Paper row.
type paperScanDest struct {
	paper       domain.Paper
	authorsJSON []byte
	pdfSource   string
}

// destinations returns the slice of pointers for Scan operations.
func (d *paperScanDest) destinations() []interface{} {
	return []interface{}{
		&d.paper.ID, &d.paper.Identifiers.Bibcode, &d.paper.Identifiers.DOI, &d.paper.Identifiers.ArXivID,
		&d.paper.Title, &d.authorsJSON, &d.paper.Year, &d.paper.Journal, &d.paper.Abstract,
		&d.paper.CitationCount, &d.paper.BibTeX, &d.paper.PDFPath, &d.pdfSource,
		&d.paper.LastSyncedAt, &d.paper.CreatedAt, &d.paper.UpdatedAt,
	}
}

// finalize performs post-scan processing.
func (d *paperScanDest) finalize() (*domain.Paper, error) {
	authors, err := unmarshalAuthors(d.authorsJSON)
	if err != nil {
		return nil, err
	}
	d.paper.Authors = authors
	d.paper.PDFSource = domain.SourceType(d.pdfSource)
	return &d.paper, nil
}

// scanPaper scans a single row into a Paper.
func scanPaper(row pgx.Row) (*domain.Paper, error) {
	var dest paperScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// collectPapers scans and closes rows.
func collectPapers(rows pgx.Rows, capacity int) ([]*domain.Paper, error) {
	defer rows.Close()

	papers := make([]*domain.Paper, 0, capacity)
	for rows.Next() {
		var dest paperScanDest
		if err := rows.Scan(dest.destinations()...); err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		paper, err := dest.finalize()
		if err != nil {
			return nil, err
		}
		papers = append(papers, paper)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}
	return papers, nil
}
