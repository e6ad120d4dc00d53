package metrics

import (
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation names used as the "operation" label
const (
	OpPut            = "put"
	OpGet            = "get"
	OpDelete         = "delete"
	OpList           = "list"
	OpStat           = "stat"
	OpRegisterTenant = "register_tenant"
)

// Metrics holds all Prometheus metrics for the blob node
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BytesWrittenTotal prometheus.Counter
	BytesReadTotal    prometheus.Counter
	BlobSizeBytes     prometheus.Histogram

	// Integrity metrics
	IntegrityViolationsTotal prometheus.Counter
	CompensationsTotal       *prometheus.CounterVec

	// Maintenance metrics
	OrphansRemovedTotal prometheus.Counter
	ScrubbedBlobsTotal  *prometheus.CounterVec

	// System metrics
	TenantsTotal       prometheus.Gauge
	TenantBlobs        *prometheus.GaugeVec
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
}

// NewMetrics creates all metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer, nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "operations_total",
			Help:        "Total number of blob operations by operation and result",
			ConstLabels: labels,
		}, []string{"operation", "result"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "operation_duration_seconds",
			Help:        "Histogram of blob operation durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		BytesWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "bytes_written_total",
			Help:        "Total blob content bytes written",
			ConstLabels: labels,
		}),
		BytesReadTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "bytes_read_total",
			Help:        "Total verified blob content bytes read",
			ConstLabels: labels,
		}),
		BlobSizeBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "size_bytes",
			Help:        "Histogram of stored blob sizes in bytes",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
		}),

		IntegrityViolationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "integrity_violations_total",
			Help:        "Total number of checksum mismatches detected",
			ConstLabels: labels,
		}),
		CompensationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "blob",
			Name:        "compensations_total",
			Help:        "Total number of orphan chunk deletes after a failed put, by result",
			ConstLabels: labels,
		}, []string{"result"}),

		OrphansRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "maintenance",
			Name:        "orphans_removed_total",
			Help:        "Total number of orphan chunks removed by sweeps",
			ConstLabels: labels,
		}),
		ScrubbedBlobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "maintenance",
			Name:        "scrubbed_blobs_total",
			Help:        "Total number of blobs verified by scrubs, by result",
			ConstLabels: labels,
		}, []string{"result"}),

		TenantsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "tenants_total",
			Help:        "Number of registered tenants",
			ConstLabels: labels,
		}),
		TenantBlobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "tenant_blobs",
			Help:        "Number of blobs indexed per tenant",
			ConstLabels: labels,
		}, []string{"tenant"}),
		DiskAvailableBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available disk space in bytes",
			ConstLabels: labels,
		}),
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage percentage",
			ConstLabels: labels,
		}),
	}
}

// RecordOperation records the outcome and latency of one operation. The
// result label is the error taxonomy name, or "OK".
func (m *Metrics) RecordOperation(operation string, err error, duration time.Duration) {
	m.OperationsTotal.WithLabelValues(operation, errors.GetCode(err).String()).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errors.IsIntegrityViolation(err) {
		m.IntegrityViolationsTotal.Inc()
	}
}

// RecordWrite records a stored blob
func (m *Metrics) RecordWrite(bytes int64) {
	m.BytesWrittenTotal.Add(float64(bytes))
	m.BlobSizeBytes.Observe(float64(bytes))
}

// RecordRead records a verified read
func (m *Metrics) RecordRead(bytes int64) {
	m.BytesReadTotal.Add(float64(bytes))
}

// RecordCompensation records a best-effort orphan delete after a failed put
func (m *Metrics) RecordCompensation(err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.CompensationsTotal.WithLabelValues(result).Inc()
}

// RecordOrphansRemoved records chunks removed by a sweep
func (m *Metrics) RecordOrphansRemoved(n int) {
	m.OrphansRemovedTotal.Add(float64(n))
}

// RecordScrubResult records one blob verified by a scrub
func (m *Metrics) RecordScrubResult(result string) {
	m.ScrubbedBlobsTotal.WithLabelValues(result).Inc()
}

// SetTenants updates the registered tenant count
func (m *Metrics) SetTenants(n int) {
	m.TenantsTotal.Set(float64(n))
}

// SetTenantBlobs updates the blob count of one tenant
func (m *Metrics) SetTenantBlobs(tenant string, n int) {
	m.TenantBlobs.WithLabelValues(tenant).Set(float64(n))
}

// UpdateDiskStats updates disk gauges
func (m *Metrics) UpdateDiskStats(usagePercent float64, availableBytes uint64) {
	m.DiskUsagePercent.Set(usagePercent)
	m.DiskAvailableBytes.Set(float64(availableBytes))
}
