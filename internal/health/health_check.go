package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// DiskReporter reports filesystem usage under the storage root
type DiskReporter interface {
	GetDiskUsage() diskmanager.DiskUsageStats
}

// Probe is a named readiness probe, for example a KV read
type Probe func(ctx context.Context) error

// HealthChecker performs health checks for the blob node
type HealthChecker struct {
	nodeID   string
	rootDir  string
	chunkDir string
	disk     DiskReporter
	probes   map[string]Probe
	logger   *zap.Logger
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name" yaml:"name"`
	Status    string    `json:"status" yaml:"status"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Report is the outcome of one round of checks
type Report struct {
	NodeID    string           `json:"node_id" yaml:"node_id"`
	Status    model.NodeStatus `json:"status" yaml:"status"`
	Checks    []CheckResult    `json:"checks" yaml:"checks"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
}

// Ready reports whether no check is critical
func (r *Report) Ready() bool {
	return r.Status != model.NodeStatusUnhealthy
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	RootDir  string
	ChunkDir string
}

// NewHealthChecker creates a new health checker. disk may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, disk DiskReporter, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		nodeID:   cfg.NodeID,
		rootDir:  cfg.RootDir,
		chunkDir: cfg.ChunkDir,
		disk:     disk,
		probes:   make(map[string]Probe),
		logger:   logger,
	}
}

// AddProbe registers an extra check. A failing probe is critical.
func (h *HealthChecker) AddProbe(name string, probe Probe) {
	h.probes[name] = probe
}

// Check runs all checks once and returns the aggregated report
func (h *HealthChecker) Check(ctx context.Context) *Report {
	results := []CheckResult{
		h.checkDirWritable("storage_root", h.rootDir),
		h.checkDirWritable("chunk_dir", h.chunkDir),
		h.checkDiskSpace(),
	}

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results = append(results, h.runProbe(ctx, name, h.probes[name]))
	}

	status := model.NodeStatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusCritical:
			status = model.NodeStatusUnhealthy
		case StatusWarning:
			if status == model.NodeStatusHealthy {
				status = model.NodeStatusDegraded
			}
		}
	}

	h.logger.Debug("Health check completed", zap.String("status", string(status)))

	return &Report{
		NodeID:    h.nodeID,
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
	}
}

// checkDiskSpace maps disk manager state onto a check result
func (h *HealthChecker) checkDiskSpace() CheckResult {
	if h.disk == nil {
		return newResult("disk_space", StatusHealthy, "Disk monitoring disabled")
	}

	stats := h.disk.GetDiskUsage()
	switch {
	case stats.IsCircuitBroken:
		return newResult("disk_space", StatusCritical,
			fmt.Sprintf("Disk usage critical: %.2f%%, writes rejected", stats.UsagePercent))
	case stats.IsThrottled:
		return newResult("disk_space", StatusWarning,
			fmt.Sprintf("Disk usage high: %.2f%%, large writes throttled", stats.UsagePercent))
	default:
		return newResult("disk_space", StatusHealthy,
			fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", stats.UsagePercent, float64(stats.AvailableBytes)/1024/1024/1024))
	}
}

// checkDirWritable checks that dir exists and accepts new files
func (h *HealthChecker) checkDirWritable(name, dir string) CheckResult {
	info, err := os.Stat(dir)
	if err != nil {
		return newResult(name, StatusCritical, fmt.Sprintf("Directory not accessible: %v", err))
	}
	if !info.IsDir() {
		return newResult(name, StatusCritical, "Path is not a directory")
	}

	f, err := os.CreateTemp(dir, ".health_check_*")
	if err != nil {
		return newResult(name, StatusCritical, fmt.Sprintf("Cannot write to directory: %v", err))
	}
	path := filepath.Clean(f.Name())
	_ = f.Close()
	_ = os.Remove(path)

	return newResult(name, StatusHealthy, "Directory is accessible and writable")
}

func (h *HealthChecker) runProbe(ctx context.Context, name string, probe Probe) CheckResult {
	if err := probe(ctx); err != nil {
		return newResult(name, StatusCritical, fmt.Sprintf("Probe failed: %v", err))
	}
	return newResult(name, StatusHealthy, "OK")
}

func newResult(name, status, message string) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
