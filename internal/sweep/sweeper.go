// Package sweep reclaims expired entries and orphaned blobs in the
// background. Both passes are pure garbage collection: they only remove,
// never create or expose files, and treat "already gone" as success so they
// can race inline deletions from the download path.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/kmarat/filedrop/internal/blob"
	"github.com/kmarat/filedrop/internal/file"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_sweep_runs_total",
		Help: "Completed sweep runs.",
	})
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_sweep_expired_total",
		Help: "Entries reclaimed by the expiry pass.",
	})
	orphansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_sweep_orphans_total",
		Help: "Blobs reclaimed by the orphan pass.",
	})
	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_sweep_errors_total",
		Help: "Per-item failures skipped during sweeps.",
	})
	durationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filedrop_sweep_duration_seconds",
		Help:    "Sweep run duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// orphanGrace is how old a metadata-less blob must be before the orphan
// pass reclaims it.
const orphanGrace = 5 * time.Minute

type metadataIndex interface {
	ListExpired(ctx context.Context, now time.Time) ([]file.Entry, error)
	ListIDs(ctx context.Context) (map[string]struct{}, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Result summarizes one sweep run.
type Result struct {
	Expired  int
	Orphans  int
	Errors   int
	Duration time.Duration
}

// Sweeper periodically reconciles the metadata store and the blob store.
type Sweeper struct {
	repo     metadataIndex
	blobs    blob.Store
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex // guards against overlapping RunOnce calls
	running bool
	cancel  context.CancelFunc
}

// New constructs a sweeper.
func New(repo metadataIndex, blobs blob.Store, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		blobs:    blobs,
		interval: interval,
		logger:   logger.With().Str("component", "sweep").Logger(),
		now:      time.Now,
	}
}

// Start launches the background loop. The first sweep runs immediately so a
// restart reclaims garbage left by a crash without waiting a full interval.
func (s *Sweeper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.run(runCtx)

	s.logger.Info().Dur("interval", s.interval).Msg("sweeper started")
}

// Stop cancels the background loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one expiry pass and one orphan pass. Overlapping calls
// are coalesced: a run that finds another in progress returns immediately.
func (s *Sweeper) RunOnce(ctx context.Context) Result {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	var res Result

	s.sweepExpired(ctx, &res)
	s.sweepOrphans(ctx, &res)

	res.Duration = time.Since(start)
	runsTotal.Inc()
	durationSeconds.Observe(res.Duration.Seconds())

	if res.Expired > 0 || res.Orphans > 0 || res.Errors > 0 {
		s.logger.Info().
			Int("expired", res.Expired).
			Int("orphans", res.Orphans).
			Int("errors", res.Errors).
			Dur("duration", res.Duration).
			Msg("sweep completed")
	}
	return res
}

// sweepExpired removes entries whose lifetime has passed: blob first, then
// the metadata row. A failure on one entry is logged and skipped so a single
// bad record cannot halt the sweep.
func (s *Sweeper) sweepExpired(ctx context.Context, res *Result) {
	expired, err := s.repo.ListExpired(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("list expired entries")
		res.Errors++
		return
	}

	for _, entry := range expired {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.blobs.Remove(ctx, entry.ID); err != nil {
			s.logger.Error().Err(err).Str("id", entry.ID).Msg("remove expired blob")
			res.Errors++
			continue
		}
		removed, err := s.repo.Delete(ctx, entry.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("id", entry.ID).Msg("remove expired entry")
			res.Errors++
			continue
		}
		if removed {
			res.Expired++
			expiredTotal.Inc()
		}
	}
}

// sweepOrphans deletes blobs that have no metadata entry, left behind by
// crashed uploads or interrupted deletions. Blobs younger than the grace
// window are skipped: an in-flight upload writes its blob before its
// metadata row, and that window must not be mistaken for an orphan.
func (s *Sweeper) sweepOrphans(ctx context.Context, res *Result) {
	blobs, err := s.blobs.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list blobs")
		res.Errors++
		return
	}
	known, err := s.repo.ListIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list entry ids")
		res.Errors++
		return
	}

	cutoff := s.now().Add(-orphanGrace)
	for _, info := range blobs {
		if ctx.Err() != nil {
			return
		}
		if _, ok := known[info.ID]; ok {
			continue
		}
		if info.ModTime.After(cutoff) {
			continue
		}
		removed, err := s.blobs.Remove(ctx, info.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("id", info.ID).Msg("remove orphaned blob")
			res.Errors++
			continue
		}
		if removed {
			res.Orphans++
			orphansTotal.Inc()
		}
	}
}
