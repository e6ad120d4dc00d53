package service

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/metrics"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/chunkstore"
	"github.com/devrev/pairdb/blob-node/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TenantRegistry is the view of the tenant registry used by the coordinator
type TenantRegistry interface {
	Register(ctx context.Context, name string) (*model.Tenant, error)
	Validate(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// ChunkStore persists blob content
type ChunkStore interface {
	Write(ctx context.Context, r io.Reader) (chunkstore.WriteResult, error)
	Read(ctx context.Context, id uuid.UUID, sink io.Writer) (chunkstore.ReadResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MetadataStore indexes blob records per tenant
type MetadataStore interface {
	Put(ctx context.Context, tenant string, record *model.BlobRecord) error
	Get(ctx context.Context, tenant string, id uuid.UUID) (*model.BlobRecord, error)
	List(ctx context.Context, tenant string, after uuid.UUID) iter.Seq2[*model.BlobRecord, error]
	Delete(ctx context.Context, tenant string, id uuid.UUID) error
}

// DiskGuard rejects writes the filesystem cannot take
type DiskGuard interface {
	CheckBeforeWrite(estimatedBytes uint64) error
}

// CoordinatorService orders every blob operation across the tenant
// registry, the chunk store and the metadata store. It holds no state of
// its own beyond the handles it was built with.
type CoordinatorService struct {
	tenants   TenantRegistry
	chunks    ChunkStore
	metadata  MetadataStore
	diskGuard DiskGuard
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewCoordinatorService creates a new coordinator service. diskGuard may be nil.
func NewCoordinatorService(
	tenants TenantRegistry,
	chunks ChunkStore,
	metadata MetadataStore,
	diskGuard DiskGuard,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CoordinatorService {
	return &CoordinatorService{
		tenants:   tenants,
		chunks:    chunks,
		metadata:  metadata,
		diskGuard: diskGuard,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterTenant registers a new tenant
func (s *CoordinatorService) RegisterTenant(ctx context.Context, name string) (tenant *model.Tenant, err error) {
	defer s.observe(metrics.OpRegisterTenant, time.Now(), &err)
	return s.tenants.Register(ctx, name)
}

// ListTenants returns all registered tenant names
func (s *CoordinatorService) ListTenants(ctx context.Context) ([]string, error) {
	names, err := s.tenants.List(ctx)
	if err == nil {
		s.metrics.SetTenants(len(names))
	}
	return names, err
}

// Put stores the content of r as a new blob owned by tenant. sizeHint is
// used for the disk space check only; pass -1 when the size is unknown.
//
// If indexing fails after the chunk was written, the chunk is deleted on a
// best-effort basis and the indexing error is returned.
func (s *CoordinatorService) Put(ctx context.Context, tenant string, r io.Reader, sizeHint int64) (record *model.BlobRecord, err error) {
	defer s.observe(metrics.OpPut, time.Now(), &err)

	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return nil, err
	}

	if s.diskGuard != nil {
		if err := s.diskGuard.CheckBeforeWrite(validation.EstimateWriteSize(sizeHint)); err != nil {
			s.logger.Warn("Rejected put due to disk pressure",
				zap.String("tenant", tenant),
				zap.Error(err))
			return nil, err
		}
	}

	written, err := s.chunks.Write(ctx, r)
	if err != nil {
		s.logger.Error("Failed to write chunk",
			zap.String("tenant", tenant),
			zap.Error(err))
		return nil, err
	}

	record = &model.BlobRecord{
		ID:        written.ID,
		Tenant:    tenant,
		Size:      written.Size,
		Checksum:  written.Digest,
		CreatedAt: s.now().UTC(),
	}

	if err := s.metadata.Put(ctx, tenant, record); err != nil {
		s.logger.Error("Failed to index blob, removing orphan chunk",
			zap.String("tenant", tenant),
			zap.String("blob_id", written.ID.String()),
			zap.Error(err))
		s.compensate(ctx, tenant, written.ID)
		return nil, err
	}

	s.metrics.RecordWrite(record.Size)
	s.logger.Info("Stored blob",
		zap.String("tenant", tenant),
		zap.String("blob_id", record.ID.String()),
		zap.Int64("size", record.Size))

	return record, nil
}

// compensate deletes a chunk that was written but never indexed. Failures
// are logged and counted; the chunk is then left for the orphan sweep.
func (s *CoordinatorService) compensate(ctx context.Context, tenant string, id uuid.UUID) {
	// the caller may have cancelled; the cleanup must still run
	err := s.chunks.Delete(context.WithoutCancel(ctx), id)
	s.metrics.RecordCompensation(err)
	if err != nil {
		s.logger.Error("Failed to remove orphan chunk",
			zap.String("tenant", tenant),
			zap.String("blob_id", id.String()),
			zap.Error(err))
	}
}

// Get streams the content of a blob into sink. The content is verified
// against its checksum artifact and metadata record; on IntegrityViolation
// any bytes already written to sink must be discarded by the caller.
func (s *CoordinatorService) Get(ctx context.Context, tenant string, id uuid.UUID, sink io.Writer) (record *model.BlobRecord, err error) {
	defer s.observe(metrics.OpGet, time.Now(), &err)

	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return nil, err
	}

	record, err = s.metadata.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}

	read, err := s.chunks.Read(ctx, id, sink)
	if err != nil {
		if errors.IsIntegrityViolation(err) {
			s.logger.Error("Integrity violation on read",
				zap.String("tenant", tenant),
				zap.String("blob_id", id.String()),
				zap.Error(err))
		}
		return nil, err
	}

	if read.Digest != record.Checksum || read.Size != record.Size {
		s.logger.Error("Chunk does not match its metadata record",
			zap.String("tenant", tenant),
			zap.String("blob_id", id.String()),
			zap.String("expected", record.Checksum),
			zap.String("actual", read.Digest),
			zap.Int64("expected_size", record.Size),
			zap.Int64("actual_size", read.Size))
		return nil, errors.ChecksumMismatch(id.String(), record.Checksum, read.Digest).
			WithDetail("expected_size", record.Size).
			WithDetail("actual_size", read.Size)
	}

	s.metrics.RecordRead(read.Size)
	return record, nil
}

// Stat returns the metadata record of a blob without reading its content
func (s *CoordinatorService) Stat(ctx context.Context, tenant string, id uuid.UUID) (record *model.BlobRecord, err error) {
	defer s.observe(metrics.OpStat, time.Now(), &err)

	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return nil, err
	}
	return s.metadata.Get(ctx, tenant, id)
}

// Delete removes a blob. The index entry goes first so that a crash midway
// leaves an unreachable chunk rather than a record pointing at nothing.
func (s *CoordinatorService) Delete(ctx context.Context, tenant string, id uuid.UUID) (err error) {
	defer s.observe(metrics.OpDelete, time.Now(), &err)

	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return err
	}

	if err := s.metadata.Delete(ctx, tenant, id); err != nil {
		return err
	}

	// the record is gone, so the delete has taken effect; finish it even if
	// the caller cancels now
	if err := s.chunks.Delete(context.WithoutCancel(ctx), id); err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("Chunk already missing on delete",
				zap.String("tenant", tenant),
				zap.String("blob_id", id.String()))
			return nil
		}
		s.logger.Error("Failed to delete chunk after removing its record",
			zap.String("tenant", tenant),
			zap.String("blob_id", id.String()),
			zap.Error(err))
		return err
	}

	s.logger.Info("Deleted blob",
		zap.String("tenant", tenant),
		zap.String("blob_id", id.String()))
	return nil
}

// ListBlobs returns the records of tenant ordered by id. It never touches
// chunk content.
func (s *CoordinatorService) ListBlobs(ctx context.Context, tenant string, opts model.ListOptions) (records []*model.BlobRecord, err error) {
	defer s.observe(metrics.OpList, time.Now(), &err)

	if err := s.tenants.Validate(ctx, tenant); err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, errors.InvalidArgument("limit cannot be negative", nil)
	}

	records = []*model.BlobRecord{}
	for record, err := range s.metadata.List(ctx, tenant, opts.After) {
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		if opts.Limit > 0 && len(records) == opts.Limit {
			break
		}
	}
	return records, nil
}

func (s *CoordinatorService) observe(operation string, start time.Time, err *error) {
	s.metrics.RecordOperation(operation, *err, time.Since(start))
}
