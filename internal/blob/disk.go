package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const tempDirName = ".tmp"

// DiskStore keeps one plain file per blob id directly under the upload
// directory, so the sweeper can enumerate ids with a single directory read.
// Writes go to a temp file first and are published with a rename.
type DiskStore struct {
	dir string
}

// NewDiskStore prepares the upload and temp directories.
func NewDiskStore(dir string) (*DiskStore, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, tempDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Put streams the payload to a temp file and renames it into place. On any
// failure the partial file is removed.
func (s *DiskStore) Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error {
	if err := validateID(id); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Join(s.dir, tempDirName), id+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, readerContext(ctx, r))
	if err != nil {
		cleanup()
		return fmt.Errorf("write blob %s: %w", id, err)
	}
	if size >= 0 && written != size {
		cleanup()
		return fmt.Errorf("write blob %s: short write, got %d of %d bytes", id, written, size)
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync blob %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close blob %s: %w", id, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish blob %s: %w", id, err)
	}
	return nil
}

// Open returns a reader over the stored file.
func (s *DiskStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

// Remove deletes the stored file if present.
func (s *DiskStore) Remove(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	err := os.Remove(filepath.Join(s.dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove blob %s: %w", id, err)
	}
	return true, nil
}

// List returns all blobs in the upload directory.
func (s *DiskStore) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and stat; not an orphan anymore.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat blob %s: %w", entry.Name(), err)
		}
		infos = append(infos, Info{ID: entry.Name(), ModTime: fi.ModTime()})
	}
	return infos, nil
}

// validateID rejects ids that could escape the upload directory. Ids are
// generated uuids, so anything else indicates a caller bug.
func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid blob id %q", id)
	}
	return nil
}

// readerContext aborts a copy once ctx is cancelled, so a disconnected
// uploader stops consuming disk.
func readerContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
