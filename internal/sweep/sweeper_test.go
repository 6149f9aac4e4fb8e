package sweep

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kmarat/filedrop/internal/blob"
	"github.com/kmarat/filedrop/internal/file"
)

func TestSweepRemovesExpiredEntries(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	now := time.Now()
	repo.add(file.Entry{ID: "stale", ExpiresAt: now.Add(-time.Hour)})
	repo.add(file.Entry{ID: "live", ExpiresAt: now.Add(time.Hour)})
	blobs.add("stale", now.Add(-2*time.Hour))
	blobs.add("live", now.Add(-2*time.Hour))

	res := sweeper.RunOnce(context.Background())

	if res.Expired != 1 {
		t.Fatalf("expected 1 expired entry, got %d", res.Expired)
	}
	if repo.has("stale") || blobs.has("stale") {
		t.Fatalf("stale entry or blob survived the sweep")
	}
	if !repo.has("live") || !blobs.has("live") {
		t.Fatalf("live entry or blob was reclaimed")
	}
}

func TestSweepRemovesOrphanedBlobs(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	now := time.Now()
	repo.add(file.Entry{ID: "tracked", ExpiresAt: now.Add(time.Hour)})
	blobs.add("tracked", now.Add(-time.Hour))
	blobs.add("orphan", now.Add(-time.Hour))

	res := sweeper.RunOnce(context.Background())

	if res.Orphans != 1 {
		t.Fatalf("expected 1 orphan reclaimed, got %d", res.Orphans)
	}
	if blobs.has("orphan") {
		t.Fatalf("orphan blob survived the sweep")
	}
	if !blobs.has("tracked") {
		t.Fatalf("tracked blob was reclaimed")
	}
}

func TestSweepSparesFreshOrphans(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	// A blob written moments ago may belong to an upload whose metadata row
	// has not landed yet.
	blobs.add("in-flight", time.Now())

	res := sweeper.RunOnce(context.Background())

	if res.Orphans != 0 {
		t.Fatalf("fresh blob reclaimed as orphan")
	}
	if !blobs.has("in-flight") {
		t.Fatalf("fresh blob deleted")
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	now := time.Now()
	repo.add(file.Entry{ID: "stale", ExpiresAt: now.Add(-time.Hour)})
	blobs.add("stale", now.Add(-2*time.Hour))
	blobs.add("orphan", now.Add(-2*time.Hour))

	first := sweeper.RunOnce(context.Background())
	if first.Expired != 1 || first.Orphans != 1 || first.Errors != 0 {
		t.Fatalf("unexpected first run result: %+v", first)
	}

	second := sweeper.RunOnce(context.Background())
	if second.Expired != 0 || second.Orphans != 0 || second.Errors != 0 {
		t.Fatalf("second run on a stable store was not a no-op: %+v", second)
	}
}

func TestSweepToleratesConcurrentRemoval(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	now := time.Now()
	// Entry listed as expired but already removed by an inline deletion
	// before the sweep reaches it.
	repo.listExtra = []file.Entry{{ID: "raced", ExpiresAt: now.Add(-time.Hour)}}

	res := sweeper.RunOnce(context.Background())

	if res.Errors != 0 {
		t.Fatalf("concurrent removal counted as error: %+v", res)
	}
	if res.Expired != 0 {
		t.Fatalf("already-absent entry counted as reclaimed: %+v", res)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	repo := newFakeIndex()
	blobs := newFakeBlobs()
	sweeper := New(repo, blobs, time.Minute, zerolog.Nop())

	now := time.Now()
	repo.add(file.Entry{ID: "broken", ExpiresAt: now.Add(-time.Hour)})
	repo.add(file.Entry{ID: "stale", ExpiresAt: now.Add(-time.Hour)})
	blobs.add("broken", now.Add(-2*time.Hour))
	blobs.add("stale", now.Add(-2*time.Hour))
	blobs.removeErrs["broken"] = errors.New("io error")

	res := sweeper.RunOnce(context.Background())

	if res.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", res.Errors)
	}
	if res.Expired != 1 {
		t.Fatalf("healthy entry not reclaimed after failure: %+v", res)
	}
	if !repo.has("broken") {
		t.Fatalf("entry with failing blob removal must keep its row")
	}
}

// --- fakes ---

type fakeIndex struct {
	mu        sync.Mutex
	entries   map[string]file.Entry
	listExtra []file.Entry
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]file.Entry)}
}

func (f *fakeIndex) add(e file.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.ID] = e
}

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

func (f *fakeIndex) ListExpired(ctx context.Context, now time.Time) ([]file.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expired := append([]file.Entry(nil), f.listExtra...)
	for _, e := range f.entries {
		if e.ExpiresAt.Before(now) {
			expired = append(expired, e)
		}
	}
	return expired, nil
}

func (f *fakeIndex) ListIDs(ctx context.Context) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]struct{}, len(f.entries))
	for id := range f.entries {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return false, nil
	}
	delete(f.entries, id)
	return true, nil
}

type fakeBlobs struct {
	mu         sync.Mutex
	blobs      map[string]time.Time
	removeErrs map[string]error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		blobs:      make(map[string]time.Time),
		removeErrs: make(map[string]error),
	}
}

func (f *fakeBlobs) add(id string, modTime time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = modTime
}

func (f *fakeBlobs) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[id]
	return ok
}

func (f *fakeBlobs) Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[id] = time.Now()
	return nil
}

func (f *fakeBlobs) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[id]; !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeBlobs) Remove(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErrs[id]; err != nil {
		return false, err
	}
	if _, ok := f.blobs[id]; !ok {
		return false, nil
	}
	delete(f.blobs, id)
	return true, nil
}

func (f *fakeBlobs) List(ctx context.Context) ([]blob.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]blob.Info, 0, len(f.blobs))
	for id, modTime := range f.blobs {
		infos = append(infos, blob.Info{ID: id, ModTime: modTime})
	}
	return infos, nil
}
