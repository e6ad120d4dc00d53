// Package node assembles a blob node from its configuration.
package node

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/devrev/pairdb/blob-node/internal/config"
	"github.com/devrev/pairdb/blob-node/internal/health"
	"github.com/devrev/pairdb/blob-node/internal/metrics"
	"github.com/devrev/pairdb/blob-node/internal/service"
	"github.com/devrev/pairdb/blob-node/internal/storage/chunkstore"
	"github.com/devrev/pairdb/blob-node/internal/storage/diskmanager"
	"github.com/devrev/pairdb/blob-node/internal/storage/kv"
	"github.com/devrev/pairdb/blob-node/internal/storage/metadata"
	"github.com/devrev/pairdb/blob-node/internal/validation"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Node owns every component of an open storage root
type Node struct {
	Config      *config.Config
	Coordinator *service.CoordinatorService
	Cleanup     *service.CleanupService
	Tenants     *service.TenantService
	Chunks      *chunkstore.Store
	Health      *health.HealthChecker
	Metrics     *metrics.Metrics

	kv     *kv.PebbleStore
	meta   *metadata.Store
	disk   *diskmanager.DiskManager
	logger *zap.Logger
}

// Open opens the storage root described by cfg, creating it if needed.
// Metrics are registered on reg.
func Open(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("node_id", cfg.Node.NodeID))

	for _, dir := range []string{cfg.Storage.Dir, cfg.ChunkDir(), cfg.MetadataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := kv.Open(cfg.MetadataDir(), logger)
	if err != nil {
		return nil, err
	}

	n, err := assemble(cfg, db, logger, reg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Blob node opened",
		zap.String("storage_dir", cfg.Storage.Dir),
		zap.Bool("verify_before_stream", cfg.Chunks.VerifyBeforeStream),
		zap.Bool("disk_guard", cfg.Disk.Enabled))

	return n, nil
}

func assemble(cfg *config.Config, db *kv.PebbleStore, logger *zap.Logger, reg prometheus.Registerer) (*Node, error) {
	validator := validation.NewValidatorWithLimits(cfg.Tenants.MaxNameSize)
	tenants, err := service.NewTenantService(db, cfg.Tenants.CacheSize, validator, logger)
	if err != nil {
		return nil, err
	}

	chunks, err := chunkstore.New(chunkstore.Config{
		Dir:                cfg.ChunkDir(),
		VerifyBeforeStream: cfg.Chunks.VerifyBeforeStream,
	}, logger)
	if err != nil {
		return nil, err
	}

	meta := metadata.New(db, logger)
	m := metrics.NewMetrics(reg, cfg.Node.NodeID)

	var (
		disk      *diskmanager.DiskManager
		diskGuard service.DiskGuard
		diskStats health.DiskReporter
	)
	if cfg.Disk.Enabled {
		disk, err = diskmanager.NewDiskManager(&diskmanager.Config{
			DataDir:                 cfg.Storage.Dir,
			CheckInterval:           cfg.Disk.CheckInterval,
			WarningThreshold:        cfg.Disk.WarningThreshold,
			ThrottleThreshold:       cfg.Disk.ThrottleThreshold,
			CircuitBreakerThreshold: cfg.Disk.CircuitBreakerThreshold,
		}, logger)
		if err != nil {
			return nil, err
		}
		diskGuard, diskStats = disk, disk
	}

	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:   cfg.Node.NodeID,
		RootDir:  cfg.Storage.Dir,
		ChunkDir: cfg.ChunkDir(),
	}, diskStats, logger)
	checker.AddProbe("metadata_kv", func(ctx context.Context) error {
		_, err := db.Get(ctx, metadata.TenantKey(""))
		if stderrors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	})

	return &Node{
		Config:      cfg,
		Coordinator: service.NewCoordinatorService(tenants, chunks, meta, diskGuard, m, logger),
		Cleanup: service.NewCleanupService(tenants, chunks, meta, service.CleanupConfig{
			GracePeriod:      cfg.Maintenance.GracePeriod,
			ScrubConcurrency: cfg.Maintenance.ScrubConcurrency,
			ScrubRate:        cfg.Maintenance.ScrubRate,
		}, m, logger),
		Tenants: tenants,
		Chunks:  chunks,
		Health:  checker,
		Metrics: m,
		kv:      db,
		meta:    meta,
		disk:    disk,
		logger:  logger,
	}, nil
}

// RefreshGauges updates point-in-time gauges before a metrics snapshot
func (n *Node) RefreshGauges(ctx context.Context) error {
	var result *multierror.Error

	names, err := n.Tenants.List(ctx)
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		n.Metrics.SetTenants(len(names))
	}
	for _, name := range names {
		count, err := n.meta.Count(ctx, name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		n.Metrics.SetTenantBlobs(name, count)
	}

	if n.disk != nil {
		if err := n.disk.ForceCheck(); err != nil {
			result = multierror.Append(result, err)
		}
		stats := n.disk.GetDiskUsage()
		n.Metrics.UpdateDiskStats(stats.UsagePercent, stats.AvailableBytes)
	}

	return result.ErrorOrNil()
}

// Close releases the KV database. The node is unusable afterwards.
func (n *Node) Close() error {
	var result *multierror.Error

	if err := n.kv.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		n.logger.Error("Failed to close blob node", zap.Error(err))
		return err
	}
	n.logger.Info("Blob node closed")
	return nil
}
