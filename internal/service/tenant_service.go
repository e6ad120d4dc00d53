package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/storage/kv"
	"github.com/devrev/pairdb/blob-node/internal/storage/metadata"
	"github.com/devrev/pairdb/blob-node/internal/validation"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultTenantCacheSize = 1024

// TenantService manages the tenant registry. Registrations are persisted in
// the KV store shared with the blob index and are never removed, so cached
// lookups never go stale.
type TenantService struct {
	kv        kv.Store
	cache     *lru.Cache[string, *model.Tenant]
	validator *validation.Validator
	logger    *zap.Logger

	// serializes register's check-then-write
	mu sync.Mutex
}

// NewTenantService creates a new tenant service
func NewTenantService(
	store kv.Store,
	cacheSize int,
	validator *validation.Validator,
	logger *zap.Logger,
) (*TenantService, error) {
	if cacheSize <= 0 {
		cacheSize = defaultTenantCacheSize
	}
	cache, err := lru.New[string, *model.Tenant](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant cache: %w", err)
	}
	if validator == nil {
		validator = validation.NewValidator()
	}

	return &TenantService{
		kv:        store,
		cache:     cache,
		validator: validator,
		logger:    logger,
	}, nil
}

// Register creates a new tenant. It fails with AlreadyExists if the name is taken.
func (s *TenantService) Register(ctx context.Context, name string) (*model.Tenant, error) {
	if err := s.validator.ValidateTenantName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.TenantExists(name)
	}

	tenant := &model.Tenant{
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tenant: %w", err)
	}

	if err := s.kv.Set(ctx, metadata.TenantKey(name), value); err != nil {
		return nil, errors.KeyFailure("put", "tenant/"+name, err)
	}
	s.cache.Add(name, tenant)

	s.logger.Info("Registered tenant", zap.String("tenant", name))

	return tenant, nil
}

// Get returns the registration for name, or UnknownTenant
func (s *TenantService) Get(ctx context.Context, name string) (*model.Tenant, error) {
	if tenant, ok := s.cache.Get(name); ok {
		return tenant, nil
	}

	value, err := s.kv.Get(ctx, metadata.TenantKey(name))
	if stderrors.Is(err, kv.ErrNotFound) {
		return nil, errors.UnknownTenant(name)
	} else if err != nil {
		return nil, errors.KeyFailure("get", "tenant/"+name, err)
	}

	var tenant model.Tenant
	if err := json.Unmarshal(value, &tenant); err != nil {
		return nil, errors.KeyFailure("decode", "tenant/"+name, err)
	}

	s.cache.Add(name, &tenant)
	return &tenant, nil
}

// Exists reports whether name is registered
func (s *TenantService) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Get(ctx, name)
	if errors.IsUnknownTenant(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Validate fails with UnknownTenant unless name is registered
func (s *TenantService) Validate(ctx context.Context, name string) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		s.logger.Debug("Rejected operation for unknown tenant", zap.String("tenant", name))
		return errors.UnknownTenant(name)
	}
	return nil
}

// List returns all registered tenant names in sorted order
func (s *TenantService) List(ctx context.Context) ([]string, error) {
	var names []string
	for entry, err := range s.kv.Scan(ctx, metadata.TenantPrefix(), nil) {
		if err != nil {
			return nil, errors.KeyFailure("scan", "tenant/*", err)
		}
		if name, ok := metadata.TenantFromKey(entry.Key); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
