package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func writeOrphan(t *testing.T, e *testEngine, content string, olderBy time.Duration) uuid.UUID {
	t.Helper()
	res, err := e.chunks.Write(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	if olderBy > 0 {
		age(t, e.chunks.ContentPath(res.ID), olderBy)
	}
	return res.ID
}

func TestCleanupService_SweepOrphans(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, false)
	e.register(t, "posts")

	live := e.put(t, "posts", []byte("indexed"))
	age(t, e.chunks.ContentPath(live.ID), 48*time.Hour)

	oldOrphan := writeOrphan(t, e, "old orphan", 48*time.Hour)
	youngOrphan := writeOrphan(t, e, "in flight", 0)

	report, err := e.cleanup.SweepOrphans(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.NoError(t, report.Err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, []uuid.UUID{oldOrphan}, report.Orphans)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, 1, report.SkippedYoung)

	assert.NoFileExists(t, e.chunks.ContentPath(oldOrphan))
	assert.NoFileExists(t, e.chunks.ChecksumPath(oldOrphan))
	assert.FileExists(t, e.chunks.ContentPath(youngOrphan))

	_, err = e.coord.Get(ctx, "posts", live.ID, &strings.Builder{})
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OrphansRemovedTotal))
}

func TestCleanupService_SweepArtifactWithoutContent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, false)
	e.register(t, "posts")

	orphan := writeOrphan(t, e, "half deleted", 0)
	require.NoError(t, os.Remove(e.chunks.ContentPath(orphan)))
	age(t, e.chunks.ChecksumPath(orphan), 48*time.Hour)

	// a record whose content vanished keeps its artifact for scrub to report
	live := e.put(t, "posts", []byte("indexed"))
	require.NoError(t, os.Remove(e.chunks.ContentPath(live.ID)))
	age(t, e.chunks.ChecksumPath(live.ID), 48*time.Hour)

	report, err := e.cleanup.SweepOrphans(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.NoError(t, report.Err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, []uuid.UUID{orphan}, report.Orphans)
	assert.Equal(t, 1, report.Removed)
	assert.NoFileExists(t, e.chunks.ChecksumPath(orphan))
	assert.FileExists(t, e.chunks.ChecksumPath(live.ID))
}

func TestCleanupService_SweepDryRun(t *testing.T) {
	e := newTestEngine(t, false)

	orphan := writeOrphan(t, e, "orphan", 2*time.Hour)

	report, err := e.cleanup.SweepOrphans(context.Background(), SweepOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, []uuid.UUID{orphan}, report.Orphans)
	assert.Equal(t, 0, report.Removed)
	assert.FileExists(t, e.chunks.ContentPath(orphan))
}

func TestCleanupService_SweepGraceOverride(t *testing.T) {
	e := newTestEngine(t, false)

	orphan := writeOrphan(t, e, "orphan", 10*time.Minute)

	report, err := e.cleanup.SweepOrphans(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedYoung)

	report, err = e.cleanup.SweepOrphans(context.Background(), SweepOptions{GracePeriod: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{orphan}, report.Orphans)
	assert.Equal(t, 1, report.Removed)
}

func TestCleanupService_SweepRemovesStaleTemp(t *testing.T) {
	e := newTestEngine(t, false)

	stale := filepath.Join(e.chunks.Dir(), ".tmp", "write-interrupted")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	age(t, stale, 2*time.Hour)

	report, err := e.cleanup.SweepOrphans(context.Background(), SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TempRemoved)
	assert.NoFileExists(t, stale)
}

func TestCleanupService_Scrub(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, false)
	e.register(t, "posts", "photos")

	healthy := e.put(t, "posts", []byte("fine"))
	corrupt := e.put(t, "posts", []byte("will be corrupted"))
	missing := e.put(t, "posts", []byte("will be lost"))
	e.put(t, "photos", []byte("other tenant"))

	require.NoError(t, os.WriteFile(e.chunks.ContentPath(corrupt.ID), []byte("corrupted"), 0o644))
	require.NoError(t, e.chunks.Delete(ctx, missing.ID))

	report, err := e.cleanup.Scrub(ctx, "posts")
	require.NoError(t, err)
	assert.Equal(t, "posts", report.Tenant)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, []uuid.UUID{corrupt.ID}, report.Corrupt)
	assert.Equal(t, []uuid.UUID{missing.ID}, report.Missing)
	assert.NoError(t, report.Err)
	assert.False(t, report.Healthy())

	// scrub reports, it never repairs or removes
	_, err = e.coord.Stat(ctx, "posts", corrupt.ID)
	assert.NoError(t, err)
	_, err = e.coord.Get(ctx, "posts", healthy.ID, &strings.Builder{})
	assert.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ScrubbedBlobsTotal.WithLabelValues(ScrubResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ScrubbedBlobsTotal.WithLabelValues(ScrubResultCorrupt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.ScrubbedBlobsTotal.WithLabelValues(ScrubResultMissing)))

	report, err = e.cleanup.Scrub(ctx, "photos")
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 1, report.Checked)
}

func TestCleanupService_ScrubRateLimited(t *testing.T) {
	e := newTestEngine(t, false)
	e.register(t, "posts")
	for i := 0; i < 5; i++ {
		e.put(t, "posts", []byte{byte(i)})
	}

	cleanup := NewCleanupService(e.tenants, e.chunks, e.meta, CleanupConfig{
		ScrubConcurrency: 2,
		ScrubRate:        1000,
	}, e.metrics, zap.NewNop())

	report, err := cleanup.Scrub(context.Background(), "posts")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Checked)
	assert.True(t, report.Healthy())
}

func TestCleanupService_ScrubUnknownTenant(t *testing.T) {
	e := newTestEngine(t, false)

	_, err := e.cleanup.Scrub(context.Background(), "ghost")
	assert.True(t, errors.IsUnknownTenant(err))
}

func TestCleanupService_ScrubCancelled(t *testing.T) {
	e := newTestEngine(t, false)
	e.register(t, "posts")
	e.put(t, "posts", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.cleanup.Scrub(ctx, "posts")
	assert.Error(t, err)
}
