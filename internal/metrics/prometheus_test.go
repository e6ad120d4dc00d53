package metrics

import (
	"testing"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordOperation(OpPut, nil, time.Millisecond)
	m.RecordOperation(OpGet, errors.ChecksumMismatch("x", "a", "b"), time.Millisecond)
	m.RecordOperation(OpGet, errors.BlobNotFound("posts", "x"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(OpPut, "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(OpGet, "IntegrityViolation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues(OpGet, "NotFound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntegrityViolationsTotal))
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.RecordWrite(10)
	m.RecordWrite(5)
	m.RecordRead(7)
	m.RecordCompensation(nil)
	m.RecordCompensation(assert.AnError)
	m.RecordOrphansRemoved(3)
	m.RecordScrubResult("corrupt")
	m.SetTenants(2)
	m.SetTenantBlobs("posts", 4)
	m.UpdateDiskStats(42.5, 1024)

	assert.Equal(t, 15.0, testutil.ToFloat64(m.BytesWrittenTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BytesReadTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompensationsTotal.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrphansRemovedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScrubbedBlobsTotal.WithLabelValues("corrupt")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TenantsTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.TenantBlobs.WithLabelValues("posts")))
	assert.Equal(t, 42.5, testutil.ToFloat64(m.DiskUsagePercent))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// each node owns its registry, so two instances never collide
	require.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry(), "a")
		NewMetrics(prometheus.NewRegistry(), "b")
	})
}
