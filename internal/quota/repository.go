package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

// Repository provides access to per-identity usage records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new quota repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the usage for an identity. An identity without a record has
// zero usage.
func (r *Repository) Get(ctx context.Context, identity Identity) (Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT identity, bytes_used, file_count, updated_at FROM quotas WHERE identity = $1;`

	var usage Usage
	err := r.pool.QueryRow(ctx, query, string(identity)).Scan(
		&usage.Identity,
		&usage.BytesUsed,
		&usage.FileCount,
		&usage.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usage{Identity: identity}, nil
		}
		return Usage{}, fmt.Errorf("get quota: %w", err)
	}
	return usage, nil
}

// Add increments an identity's counters by one committed upload, refusing
// the increment once either ceiling is reached. The conditional UPSERT
// serializes updates to a given identity inside the database: concurrent
// commits that all passed the pre-payload check re-evaluate the ceilings one
// at a time, so combined usage overshoots by at most one upload. Returns
// whether the increment was applied.
func (r *Repository) Add(ctx context.Context, identity Identity, bytes, maxBytes, maxFiles int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO quotas (identity, bytes_used, file_count, updated_at)
VALUES ($1, $2, 1, now())
ON CONFLICT (identity) DO UPDATE
SET bytes_used = quotas.bytes_used + EXCLUDED.bytes_used,
    file_count = quotas.file_count + 1,
    updated_at = now()
WHERE quotas.bytes_used < $3 AND quotas.file_count < $4;`

	tag, err := r.pool.Exec(ctx, query, string(identity), bytes, maxBytes, maxFiles)
	if err != nil {
		return false, fmt.Errorf("update quota: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
