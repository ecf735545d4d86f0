package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ SyncRunRepository = (*PgSyncRunRepository)(nil)

// PgSyncRunRepository is a PostgreSQL implementation of SyncRunRepository.
type PgSyncRunRepository struct {
	db DBTX
}

// NewPgSyncRunRepository creates a new PostgreSQL sync run repository.
func NewPgSyncRunRepository(db DBTX) *PgSyncRunRepository {
	return &PgSyncRunRepository{db: db}
}

// RecordSyncRun inserts the run or updates the row with the same ID.
func (r *PgSyncRunRepository) RecordSyncRun(ctx context.Context, run *domain.SyncRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}

	query := `
		INSERT INTO sync_runs (id, status, total, updated, failed, skipped, error_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			updated = EXCLUDED.updated,
			failed = EXCLUDED.failed,
			skipped = EXCLUDED.skipped,
			error_count = EXCLUDED.error_count,
			finished_at = EXCLUDED.finished_at`

	_, err := r.db.Exec(ctx, query,
		run.ID, run.Status, run.Total, run.Updated, run.Failed, run.Skipped,
		run.ErrorCount, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

const syncRunColumns = `id, status, total, updated, failed, skipped, error_count, started_at, finished_at`

// GetSyncRun retrieves a run by ID.
func (r *PgSyncRunRepository) GetSyncRun(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	query := `SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = $1`

	run, err := scanSyncRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("sync run", id.String())
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (r *PgSyncRunRepository) ListSyncRuns(ctx context.Context, limit int) ([]*domain.SyncRun, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	query := `SELECT ` + syncRunColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

func scanSyncRun(row pgx.Row) (*domain.SyncRun, error) {
	var (
		run    domain.SyncRun
		status string
	)
	if err := row.Scan(&run.ID, &status, &run.Total, &run.Updated, &run.Failed, &run.Skipped,
		&run.ErrorCount, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	run.Status = domain.SyncRunStatus(status)
	return &run, nil
}
