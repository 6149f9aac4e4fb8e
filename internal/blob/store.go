// Package blob stores raw file bytes under generated ids. A blob has no
// notion of validity on its own; an id without a metadata entry is garbage
// and gets reclaimed by the sweeper.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound signals that no blob exists under the requested id.
var ErrNotFound = errors.New("blob not found")

// Info describes one stored blob. ModTime lets the sweeper leave very fresh
// blobs alone: an upload writes its blob before its metadata row, and that
// window must not look like an orphan.
type Info struct {
	ID      string
	ModTime time.Time
}

// Store is the contract shared by the disk and MinIO backends.
//
// Remove reports whether a blob was actually deleted; removing an absent
// blob is not an error, so deletions can race downloads and sweeps safely.
type Store interface {
	// Put writes a new blob under id, reading exactly size bytes from r.
	// A failed write must leave nothing behind under id.
	Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error
	// Open returns a reader over the blob contents.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Remove deletes the blob if present.
	Remove(ctx context.Context, id string) (bool, error)
	// List enumerates all blobs physically present.
	List(ctx context.Context) ([]Info, error)
}
