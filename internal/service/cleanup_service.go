package service

import (
	"bytes"
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/metrics"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/chunkstore"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scrub results, also used as metric labels
const (
	ScrubResultOK      = "ok"
	ScrubResultCorrupt = "corrupt"
	ScrubResultMissing = "missing"
	ScrubResultError   = "error"
)

// ChunkInventory is the chunk store as seen by maintenance
type ChunkInventory interface {
	Iterate(ctx context.Context) iter.Seq2[model.ChunkInfo, error]
	Verify(ctx context.Context, id uuid.UUID) (chunkstore.ReadResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
	RemoveStaleTemp(olderThan time.Duration) (int, error)
}

// BlobIndex is the metadata store as seen by maintenance
type BlobIndex interface {
	List(ctx context.Context, tenant string, after uuid.UUID) iter.Seq2[*model.BlobRecord, error]
	Contains(ctx context.Context, id uuid.UUID) (bool, error)
}

// CleanupConfig configures maintenance operations
type CleanupConfig struct {
	// GracePeriod protects chunks of puts that are still in flight
	GracePeriod      time.Duration
	ScrubConcurrency int
	// ScrubRate caps verified blobs per second; zero means unlimited
	ScrubRate float64
}

// SweepOptions controls a single orphan sweep
type SweepOptions struct {
	// GracePeriod overrides the configured grace period when non-zero
	GracePeriod time.Duration
	DryRun      bool
}

// SweepReport summarizes an orphan sweep
type SweepReport struct {
	Scanned      int
	Orphans      []uuid.UUID
	Removed      int
	SkippedYoung int
	TempRemoved  int
	DryRun       bool
	// Err aggregates per-chunk failures that did not stop the sweep
	Err error
}

// ScrubReport summarizes the verification of one tenant's blobs
type ScrubReport struct {
	Tenant  string
	Checked int
	Corrupt []uuid.UUID
	Missing []uuid.UUID
	// Err aggregates failures that prevented a verdict for a blob
	Err error
}

// Healthy reports whether every checked blob verified
func (r *ScrubReport) Healthy() bool {
	return len(r.Corrupt) == 0 && len(r.Missing) == 0 && r.Err == nil
}

// CleanupService reclaims orphan chunks and verifies stored blobs. Both
// run on demand; nothing here starts background goroutines.
type CleanupService struct {
	tenants TenantRegistry
	chunks  ChunkInventory
	index   BlobIndex
	config  CleanupConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(
	tenants TenantRegistry,
	chunks ChunkInventory,
	index BlobIndex,
	config CleanupConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CleanupService {
	if config.GracePeriod == 0 {
		config.GracePeriod = time.Hour
	}
	if config.ScrubConcurrency <= 0 {
		config.ScrubConcurrency = 4
	}

	return &CleanupService{
		tenants: tenants,
		chunks:  chunks,
		index:   index,
		config:  config,
		metrics: m,
		logger:  logger,
	}
}

// SweepOrphans deletes chunks that no tenant references and that are older
// than the grace period, along with stale temp files of interrupted writes.
func (s *CleanupService) SweepOrphans(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	grace := opts.GracePeriod
	if grace == 0 {
		grace = s.config.GracePeriod
	}
	cutoff := time.Now().Add(-grace)

	s.logger.Info("Starting orphan sweep",
		zap.Duration("grace_period", grace),
		zap.Bool("dry_run", opts.DryRun))

	report := &SweepReport{DryRun: opts.DryRun}
	var failures *multierror.Error

	for chunk, err := range s.chunks.Iterate(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failures = multierror.Append(failures, err)
			continue
		}
		report.Scanned++

		referenced, err := s.index.Contains(ctx, chunk.ID)
		if err != nil {
			return nil, err
		}
		if referenced {
			continue
		}

		if chunk.ModTime.After(cutoff) {
			report.SkippedYoung++
			continue
		}

		report.Orphans = append(report.Orphans, chunk.ID)
		if opts.DryRun {
			continue
		}

		if err := s.chunks.Delete(ctx, chunk.ID); err != nil && !errors.IsNotFound(err) {
			s.logger.Warn("Failed to remove orphan chunk",
				zap.String("blob_id", chunk.ID.String()),
				zap.Error(err))
			failures = multierror.Append(failures, err)
			continue
		}
		report.Removed++
		s.logger.Info("Removed orphan chunk",
			zap.String("blob_id", chunk.ID.String()),
			zap.Time("mod_time", chunk.ModTime),
			zap.Bool("artifact_only", chunk.ArtifactOnly))
	}

	if !opts.DryRun {
		n, err := s.chunks.RemoveStaleTemp(grace)
		if err != nil {
			failures = multierror.Append(failures, err)
		}
		report.TempRemoved = n
	}

	report.Err = failures.ErrorOrNil()
	s.metrics.RecordOrphansRemoved(report.Removed)

	s.logger.Info("Orphan sweep completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("removed", report.Removed),
		zap.Int("skipped_young", report.SkippedYoung),
		zap.Int("temp_removed", report.TempRemoved))

	return report, nil
}

// Scrub re-verifies every blob of tenant against its checksum artifact and
// metadata record. Corrupt blobs are reported, never repaired.
func (s *CleanupService) Scrub(ctx context.Context, tenant string) (*ScrubReport, error) {
	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return nil, err
	}

	s.logger.Info("Starting scrub",
		zap.String("tenant", tenant),
		zap.Int("concurrency", s.config.ScrubConcurrency))

	limit := rate.Inf
	if s.config.ScrubRate > 0 {
		limit = rate.Limit(s.config.ScrubRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	report := &ScrubReport{Tenant: tenant}
	var (
		mu       sync.Mutex
		failures *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.ScrubConcurrency)

	for record, err := range s.index.List(ctx, tenant, uuid.Nil) {
		if err != nil {
			_ = g.Wait()
			return nil, err
		}
		if err := limiter.Wait(gctx); err != nil {
			break
		}

		g.Go(func() error {
			result, err := s.verify(gctx, record)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch result {
			case ScrubResultCorrupt:
				report.Corrupt = append(report.Corrupt, record.ID)
			case ScrubResultMissing:
				report.Missing = append(report.Missing, record.ID)
			case ScrubResultError:
				failures = multierror.Append(failures, err)
			}
			s.metrics.RecordScrubResult(result)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byID := func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }
	slices.SortFunc(report.Corrupt, byID)
	slices.SortFunc(report.Missing, byID)
	report.Err = failures.ErrorOrNil()

	s.logger.Info("Scrub completed",
		zap.String("tenant", tenant),
		zap.Int("checked", report.Checked),
		zap.Int("corrupt", len(report.Corrupt)),
		zap.Int("missing", len(report.Missing)))

	return report, nil
}

func (s *CleanupService) verify(ctx context.Context, record *model.BlobRecord) (string, error) {
	read, err := s.chunks.Verify(ctx, record.ID)
	switch {
	case errors.IsIntegrityViolation(err):
		s.logger.Error("Scrub found corrupt blob",
			zap.String("tenant", record.Tenant),
			zap.String("blob_id", record.ID.String()),
			zap.Error(err))
		return ScrubResultCorrupt, err
	case errors.IsNotFound(err):
		s.logger.Error("Scrub found blob without chunk",
			zap.String("tenant", record.Tenant),
			zap.String("blob_id", record.ID.String()))
		return ScrubResultMissing, err
	case err != nil:
		return ScrubResultError, err
	}

	if read.Digest != record.Checksum || read.Size != record.Size {
		s.logger.Error("Scrub found chunk that does not match its record",
			zap.String("tenant", record.Tenant),
			zap.String("blob_id", record.ID.String()),
			zap.String("expected", record.Checksum),
			zap.String("actual", read.Digest))
		return ScrubResultCorrupt, errors.ChecksumMismatch(record.ID.String(), record.Checksum, read.Digest)
	}
	return ScrubResultOK, nil
}
