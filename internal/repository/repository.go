// Package repository provides the PostgreSQL library store.
//
// # Overview
//
// The library store persists tracked papers, their reference and citation
// lists, and the history of sync runs. The batch synchronizer commits to it
// only after a paper's enrichment has settled.
//
// # Error Handling
//
// Methods return domain errors where the caller can act on them:
//
//   - domain.ErrNotFound: the paper or run does not exist
//   - domain.ErrAlreadyExists: an identifier already belongs to another paper
//   - domain.ErrInvalidInput: invalid parameters
//
// Other database errors are wrapped with fmt.Errorf and %w.
//
// # Transactions
//
// Repositories accept DBTX, so they work on the pool or inside a caller's
// pgx.Tx:
//
//	tx, err := pool.Begin(ctx)
//	...
//	err = repository.NewPgPaperRepository(tx).RecordReferences(ctx, id, refs)
package repository

import (
	"github.com/helixir/paper-sync-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
