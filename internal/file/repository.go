package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kmarat/filedrop/internal/quota"
)

const repoTimeout = 5 * time.Second

const entryColumns = `id, owner_identity, original_name, size_bytes, content_type, password_hash, access_limit, access_count, expires_at, created_at`

// Repository provides access to file metadata storage. Access-count
// mutations are single conditional statements, so concurrent downloads of
// the same id serialize inside the database rather than behind an
// application lock.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e     Entry
		owner string
	)
	err := row.Scan(
		&e.ID,
		&owner,
		&e.OriginalName,
		&e.SizeBytes,
		&e.ContentType,
		&e.PasswordHash,
		&e.AccessLimit,
		&e.AccessCount,
		&e.ExpiresAt,
		&e.CreatedAt,
	)
	e.OwnerIdentity = quota.Identity(owner)
	return e, err
}

// Insert persists the metadata for a freshly stored blob.
func (r *Repository) Insert(ctx context.Context, e Entry) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, owner_identity, original_name, size_bytes, content_type, password_hash, access_limit, access_count, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + entryColumns + `;`

	stored, err := scanEntry(r.pool.QueryRow(ctx, query,
		e.ID,
		string(e.OwnerIdentity),
		e.OriginalName,
		e.SizeBytes,
		e.ContentType,
		e.PasswordHash,
		e.AccessLimit,
		e.AccessCount,
		e.ExpiresAt,
	))
	if err != nil {
		return Entry{}, fmt.Errorf("insert file metadata: %w", err)
	}
	return stored, nil
}

// Get fetches the metadata for a single file.
func (r *Repository) Get(ctx context.Context, id string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + entryColumns + ` FROM files WHERE id = $1;`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("get file metadata: %w", err)
	}
	return e, nil
}

// ClaimAccess atomically takes one access from the entry. The conditional
// UPDATE is the compare-and-swap that makes double-spending the final access
// impossible: of two simultaneous claims on a last-access file, exactly one
// matches the predicate. ErrNotFound is returned when the entry is gone,
// exhausted or expired.
func (r *Repository) ClaimAccess(ctx context.Context, id string, now time.Time) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE files
SET access_count = access_count + 1
WHERE id = $1 AND access_count < access_limit AND expires_at > $2
RETURNING ` + entryColumns + `;`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("claim access: %w", err)
	}
	return e, nil
}

// ReleaseAccess refunds a claimed access after a failed transfer. Releasing
// an already-deleted entry is a no-op.
func (r *Repository) ReleaseAccess(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `UPDATE files SET access_count = access_count - 1 WHERE id = $1 AND access_count > 0;`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("release access: %w", err)
	}
	return nil
}

// Delete removes the metadata row if present and reports whether a row was
// actually deleted. An absent row is not an error.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("delete file metadata: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpired returns all entries whose lifetime passed before now.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + entryColumns + ` FROM files WHERE expires_at < $1;`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var expired []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired file: %w", err)
		}
		expired = append(expired, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired files: %w", err)
	}
	return expired, nil
}

// ListIDs returns the set of all known file ids, for orphan detection.
func (r *Repository) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id FROM files;`)
	if err != nil {
		return nil, fmt.Errorf("list file ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file ids: %w", err)
	}
	return ids, nil
}
