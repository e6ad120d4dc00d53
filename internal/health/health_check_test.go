package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/diskmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDisk struct {
	stats diskmanager.DiskUsageStats
}

func (f fakeDisk) GetDiskUsage() diskmanager.DiskUsageStats { return f.stats }

func newTestChecker(t *testing.T, disk DiskReporter) *HealthChecker {
	t.Helper()
	root := t.TempDir()
	chunks := filepath.Join(root, "chunks")
	require.NoError(t, os.MkdirAll(chunks, 0o755))

	return NewHealthChecker(&HealthCheckConfig{
		NodeID:   "test",
		RootDir:  root,
		ChunkDir: chunks,
	}, disk, zap.NewNop())
}

func statusOf(report *Report, name string) string {
	for _, c := range report.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestHealthChecker_Healthy(t *testing.T) {
	h := newTestChecker(t, fakeDisk{stats: diskmanager.DiskUsageStats{UsagePercent: 40, AvailableBytes: 1 << 30}})
	h.AddProbe("kv", func(context.Context) error { return nil })

	report := h.Check(context.Background())
	assert.Equal(t, model.NodeStatusHealthy, report.Status)
	assert.True(t, report.Ready())
	assert.Len(t, report.Checks, 4)
	assert.Equal(t, StatusHealthy, statusOf(report, "kv"))
	assert.Equal(t, "test", report.NodeID)

	// no probe files are left behind
	entries, err := os.ReadDir(h.rootDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHealthChecker_Degraded(t *testing.T) {
	h := newTestChecker(t, fakeDisk{stats: diskmanager.DiskUsageStats{UsagePercent: 92, IsThrottled: true}})

	report := h.Check(context.Background())
	assert.Equal(t, model.NodeStatusDegraded, report.Status)
	assert.True(t, report.Ready())
	assert.Equal(t, StatusWarning, statusOf(report, "disk_space"))
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *HealthChecker)
		check string
	}{
		{"failing probe", func(h *HealthChecker) {
			h.AddProbe("kv", func(context.Context) error { return errors.New("closed") })
		}, "kv"},
		{"missing chunk dir", func(h *HealthChecker) {
			h.chunkDir = filepath.Join(h.rootDir, "missing")
		}, "chunk_dir"},
		{"circuit broken", func(h *HealthChecker) {
			h.disk = fakeDisk{stats: diskmanager.DiskUsageStats{UsagePercent: 99, IsCircuitBroken: true}}
		}, "disk_space"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestChecker(t, nil)
			tt.setup(h)

			report := h.Check(context.Background())
			assert.Equal(t, model.NodeStatusUnhealthy, report.Status)
			assert.False(t, report.Ready())
			assert.Equal(t, StatusCritical, statusOf(report, tt.check))
		})
	}
}
