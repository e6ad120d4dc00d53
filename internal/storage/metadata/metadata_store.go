// Package metadata indexes blob records by (tenant, blob id) in the KV
// engine. Listing a tenant is a prefix scan over its keys, which is what
// keeps tenants from seeing each other's blobs.
package metadata

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"iter"
	"sync"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistent blob index
type Store struct {
	kv     kv.Store
	logger *zap.Logger

	// serializes check-then-write operations
	mu sync.Mutex
}

// New creates a metadata store on top of an open KV store
func New(store kv.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:     store,
		logger: logger.With(zap.String("component", "metadata")),
	}
}

// Put inserts a record. It fails with AlreadyExists if the key is present.
func (s *Store) Put(ctx context.Context, tenant string, record *model.BlobRecord) error {
	if record == nil || record.ID == uuid.Nil {
		return errors.InvalidArgument("record with a non-nil id is required", nil)
	}

	value, err := json.Marshal(record)
	if err != nil {
		return errors.InvalidArgument("failed to encode blob record", err)
	}

	key := recordKey(tenant, record.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.kv.Get(ctx, key)
	switch {
	case err == nil:
		return errors.RecordExists(tenant, record.ID.String())
	case !stderrors.Is(err, kv.ErrNotFound):
		return errors.KeyFailure("get", displayKey(tenant, record.ID), err)
	}

	batch := kv.NewBatch().
		Set(key, value).
		Set(ownerKey(record.ID, tenant), nil)
	if err := s.kv.Commit(ctx, batch); err != nil {
		return errors.KeyFailure("put", displayKey(tenant, record.ID), err)
	}

	s.logger.Debug("Stored blob record",
		zap.String("tenant", tenant),
		zap.String("blob_id", record.ID.String()))
	return nil
}

// Get returns the record for (tenant, id) or NotFound
func (s *Store) Get(ctx context.Context, tenant string, id uuid.UUID) (*model.BlobRecord, error) {
	value, err := s.kv.Get(ctx, recordKey(tenant, id))
	if stderrors.Is(err, kv.ErrNotFound) {
		return nil, errors.BlobNotFound(tenant, id.String())
	} else if err != nil {
		return nil, errors.KeyFailure("get", displayKey(tenant, id), err)
	}
	return decodeRecord(tenant, id, value)
}

// List yields the records of tenant ordered by blob id, starting strictly
// after the given cursor. uuid.Nil starts from the beginning.
func (s *Store) List(ctx context.Context, tenant string, after uuid.UUID) iter.Seq2[*model.BlobRecord, error] {
	return func(yield func(*model.BlobRecord, error) bool) {
		prefix := recordPrefix(tenant)
		var cursor []byte
		if after != uuid.Nil {
			cursor = recordKey(tenant, after)
		}

		for entry, err := range s.kv.Scan(ctx, prefix, cursor) {
			if err != nil {
				yield(nil, errors.KeyFailure("scan", tenant+"/*", err))
				return
			}

			id, err := uuid.FromBytes(entry.Key[len(prefix):])
			if err != nil {
				yield(nil, errors.KeyFailure("decode", tenant+"/*", err))
				return
			}

			record, err := decodeRecord(tenant, id, entry.Value)
			if !yield(record, err) || err != nil {
				return
			}
		}
	}
}

// Delete removes the record for (tenant, id). It fails with NotFound if absent.
func (s *Store) Delete(ctx context.Context, tenant string, id uuid.UUID) error {
	key := recordKey(tenant, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.kv.Get(ctx, key)
	if stderrors.Is(err, kv.ErrNotFound) {
		return errors.BlobNotFound(tenant, id.String())
	} else if err != nil {
		return errors.KeyFailure("get", displayKey(tenant, id), err)
	}

	batch := kv.NewBatch().
		Delete(key).
		Delete(ownerKey(id, tenant))
	if err := s.kv.Commit(ctx, batch); err != nil {
		return errors.KeyFailure("delete", displayKey(tenant, id), err)
	}

	s.logger.Debug("Deleted blob record",
		zap.String("tenant", tenant),
		zap.String("blob_id", id.String()))
	return nil
}

// Count returns the number of records held by tenant
func (s *Store) Count(ctx context.Context, tenant string) (int, error) {
	n := 0
	for _, err := range s.kv.Scan(ctx, recordPrefix(tenant), nil) {
		if err != nil {
			return 0, errors.KeyFailure("scan", tenant+"/*", err)
		}
		n++
	}
	return n, nil
}

// Contains reports whether any tenant holds a record for id
func (s *Store) Contains(ctx context.Context, id uuid.UUID) (bool, error) {
	for _, err := range s.kv.Scan(ctx, ownerPrefix(id), nil) {
		if err != nil {
			return false, errors.KeyFailure("scan", "*/"+id.String(), err)
		}
		return true, nil
	}
	return false, nil
}

func decodeRecord(tenant string, id uuid.UUID, value []byte) (*model.BlobRecord, error) {
	var record model.BlobRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, errors.KeyFailure("decode", displayKey(tenant, id), err)
	}
	return &record, nil
}
