package quota

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type usageStore interface {
	Get(ctx context.Context, identity Identity) (Usage, error)
	Add(ctx context.Context, identity Identity, bytes, maxBytes, maxFiles int64) (bool, error)
}

// Tracker enforces per-identity upload ceilings.
type Tracker struct {
	repo          usageStore
	maxQuotaBytes int64
	maxQuotaFiles int64
	logger        zerolog.Logger
}

// NewTracker constructs a quota tracker.
func NewTracker(repo usageStore, maxQuotaBytes, maxQuotaFiles int64, logger zerolog.Logger) *Tracker {
	return &Tracker{
		repo:          repo,
		maxQuotaBytes: maxQuotaBytes,
		maxQuotaFiles: maxQuotaFiles,
		logger:        logger.With().Str("component", "quota").Logger(),
	}
}

// Reserve checks the identity against its ceilings before any payload bytes
// are accepted. Either ceiling alone denies the upload. The deny conditions
// intentionally ignore the incoming size: quota is a rolling ceiling on
// cumulative churn, so an identity below the ceiling may finish one upload
// past it.
func (t *Tracker) Reserve(ctx context.Context, identity Identity) error {
	usage, err := t.repo.Get(ctx, identity)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}

	if usage.BytesUsed >= t.maxQuotaBytes || usage.FileCount >= t.maxQuotaFiles {
		t.logger.Debug().
			Str("identity", string(identity)).
			Int64("bytes_used", usage.BytesUsed).
			Int64("file_count", usage.FileCount).
			Msg("upload denied by quota")
		return ErrQuotaExceeded
	}
	return nil
}

// Commit records a durably written upload. Must only be called after the
// blob exists, so a failed upload never inflates quota. The increment is
// conditional on the ceilings: concurrent uploads from one identity that all
// passed Reserve serialize here, and once the record reaches a ceiling the
// remaining commits fail so their uploads roll back.
func (t *Tracker) Commit(ctx context.Context, identity Identity, actualBytes int64) error {
	applied, err := t.repo.Add(ctx, identity, actualBytes, t.maxQuotaBytes, t.maxQuotaFiles)
	if err != nil {
		return fmt.Errorf("commit quota: %w", err)
	}
	if !applied {
		t.logger.Debug().
			Str("identity", string(identity)).
			Int64("bytes", actualBytes).
			Msg("commit denied by quota")
		return ErrQuotaExceeded
	}
	return nil
}

// Usage exposes the identity's current counters.
func (t *Tracker) Usage(ctx context.Context, identity Identity) (Usage, error) {
	return t.repo.Get(ctx, identity)
}
