package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/kmarat/filedrop/internal/blob"
	"github.com/kmarat/filedrop/internal/quota"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_uploads_total",
		Help: "Successful uploads.",
	})
	downloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_downloads_total",
		Help: "Downloads that began streaming.",
	})
	removalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedrop_removals_total",
		Help: "Inline file removals by reason.",
	}, []string{"reason"})
)

type metadataStore interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	ClaimAccess(ctx context.Context, id string, now time.Time) (Entry, error)
	ReleaseAccess(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (bool, error)
}

type quotaTracker interface {
	Reserve(ctx context.Context, identity quota.Identity) error
	Commit(ctx context.Context, identity quota.Identity, actualBytes int64) error
}

// Policy holds the clamps and defaults applied to every stored entry.
type Policy struct {
	MaxUploadBytes     int64
	DefaultExpiry      time.Duration
	MaxExpiry          time.Duration
	DefaultAccessLimit int
	MaxAccessLimit     int
}

// Service is the file lifecycle manager. It owns upload orchestration, the
// download gate and inline removal; the sweeper handles out-of-band
// reclamation with the same idempotent deletion primitives.
type Service struct {
	repo   metadataStore
	blobs  blob.Store
	quotas quotaTracker
	policy Policy
	logger zerolog.Logger
	now    func() time.Time
}

// NewService constructs a lifecycle manager.
func NewService(repo metadataStore, blobs blob.Store, quotas quotaTracker, policy Policy, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		blobs:  blobs,
		quotas: quotas,
		policy: policy,
		logger: logger.With().Str("component", "file").Logger(),
		now:    time.Now,
	}
}

// MaxUploadBytes exposes the payload cap for the HTTP layer's body limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.policy.MaxUploadBytes
}

// Reserve checks the identity's quota before any payload bytes are read.
func (s *Service) Reserve(ctx context.Context, identity quota.Identity) error {
	return s.quotas.Reserve(ctx, identity)
}

// Upload persists the payload and its metadata, then commits quota.
// Failures after the blob is written roll the blob (and row) back so no
// orphan survives the request.
func (s *Service) Upload(ctx context.Context, identity quota.Identity, fileHeader *multipart.FileHeader, opts UploadOptions) (Entry, error) {
	if fileHeader == nil {
		return Entry{}, fmt.Errorf("missing file payload")
	}

	size := fileHeader.Size
	if size > s.policy.MaxUploadBytes {
		return Entry{}, ErrPayloadTooLarge
	}

	if err := s.quotas.Reserve(ctx, identity); err != nil {
		return Entry{}, err
	}

	src, err := fileHeader.Open()
	if err != nil {
		return Entry{}, fmt.Errorf("open upload file: %w", err)
	}
	defer src.Close()

	id := uuid.NewString()
	contentType := detectContentType(fileHeader)

	if err := s.blobs.Put(ctx, id, src, size, contentType); err != nil {
		// Put leaves nothing behind on failure; an uploader disconnect lands
		// here as well.
		return Entry{}, fmt.Errorf("store blob: %w", err)
	}

	entry := Entry{
		ID:            id,
		OwnerIdentity: identity,
		OriginalName:  sanitizeFilename(fileHeader.Filename),
		SizeBytes:     size,
		ContentType:   contentType,
		AccessLimit:   s.clampAccessLimit(opts.AccessLimit),
		ExpiresAt:     s.clampExpiry(opts.ExpiresMillis),
	}

	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			s.discardBlob(ctx, id)
			return Entry{}, fmt.Errorf("hash password: %w", err)
		}
		entry.PasswordHash = string(hash)
	}

	stored, err := s.repo.Insert(ctx, entry)
	if err != nil {
		s.discardBlob(ctx, id)
		return Entry{}, fmt.Errorf("insert metadata: %w", err)
	}

	if err := s.quotas.Commit(ctx, identity, size); err != nil {
		s.remove(ctx, id, "upload_rollback")
		return Entry{}, fmt.Errorf("commit quota: %w", err)
	}

	uploadsTotal.Inc()
	s.logger.Info().
		Str("id", stored.ID).
		Int64("size_bytes", stored.SizeBytes).
		Int("access_limit", stored.AccessLimit).
		Time("expires_at", stored.ExpiresAt).
		Msg("file stored")
	return stored, nil
}

// Download validates the entry, atomically claims one access and opens the
// blob. The returned entry reflects the claimed access count; the caller
// must invoke Finish once the transfer outcome is known.
//
// Validation order is fixed: existence, password, expiry, exhaustion. Every
// rejection surfaces as ErrNotFound.
func (s *Service) Download(ctx context.Context, id, password string) (Entry, io.ReadCloser, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, nil, ErrNotFound
		}
		return Entry{}, nil, fmt.Errorf("lookup metadata: %w", err)
	}

	if entry.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(entry.PasswordHash), []byte(password)) != nil {
			return Entry{}, nil, ErrNotFound
		}
	}

	now := s.now()
	if entry.Expired(now) {
		// Lazy expiry: the sweep would reclaim this later anyway.
		s.remove(ctx, id, "expired")
		return Entry{}, nil, ErrNotFound
	}
	if entry.Exhausted() {
		// Every access is claimed, but the claims may still be streaming or
		// about to be refunded, so the entry must not be reclaimed here. The
		// winner's Finish deletes it; the expiry sweep is the backstop.
		return Entry{}, nil, ErrNotFound
	}

	claimed, err := s.repo.ClaimAccess(ctx, id, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent downloader won the remaining access.
			return Entry{}, nil, ErrNotFound
		}
		return Entry{}, nil, fmt.Errorf("claim access: %w", err)
	}

	rc, err := s.blobs.Open(ctx, id)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// Metadata without a blob is garbage; reclaim the row.
			s.remove(ctx, id, "missing_blob")
			return Entry{}, nil, ErrNotFound
		}
		s.releaseClaim(ctx, id)
		return Entry{}, nil, fmt.Errorf("open blob: %w", err)
	}

	downloadsTotal.Inc()
	return claimed, rc, nil
}

// Finish settles a claimed access after the transfer. A delivered final
// access deletes the entry and its blob; a failed transfer refunds the
// claim so the access is not burned.
func (s *Service) Finish(ctx context.Context, entry Entry, delivered bool) {
	ctx = context.WithoutCancel(ctx)

	if !delivered {
		s.releaseClaim(ctx, entry.ID)
		return
	}

	if entry.Exhausted() {
		s.remove(ctx, entry.ID, "exhausted")
	}
}

func (s *Service) releaseClaim(ctx context.Context, id string) {
	if err := s.repo.ReleaseAccess(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("release claimed access")
	}
}

// remove deletes an entry's metadata row and blob. Both deletions are
// idempotent, so races with concurrent downloads and sweeps are harmless.
func (s *Service) remove(ctx context.Context, id, reason string) {
	ctx = context.WithoutCancel(ctx)

	if _, err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("reason", reason).Msg("delete metadata")
	}
	if _, err := s.blobs.Remove(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("reason", reason).Msg("delete blob")
	}
	removalsTotal.WithLabelValues(reason).Inc()
}

func (s *Service) discardBlob(ctx context.Context, id string) {
	if _, err := s.blobs.Remove(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("discard orphaned blob")
	}
}

func (s *Service) clampAccessLimit(requested int) int {
	if requested <= 0 {
		return s.policy.DefaultAccessLimit
	}
	if requested > s.policy.MaxAccessLimit {
		return s.policy.MaxAccessLimit
	}
	return requested
}

func (s *Service) clampExpiry(requestedMillis int64) time.Time {
	now := s.now()
	ceiling := now.Add(s.policy.MaxExpiry)

	if requestedMillis <= 0 {
		return now.Add(s.policy.DefaultExpiry)
	}

	requested := time.UnixMilli(requestedMillis)
	if !requested.After(now) {
		// A requested expiry in the past would create a stillborn entry.
		return now.Add(s.policy.DefaultExpiry)
	}
	if requested.After(ceiling) {
		return ceiling
	}
	return requested
}

func detectContentType(fileHeader *multipart.FileHeader) string {
	if contentType := fileHeader.Header.Get("Content-Type"); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}
