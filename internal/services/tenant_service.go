package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paghetta/internal/cache"
	"paghetta/internal/core"
	"paghetta/internal/log"
	"paghetta/internal/storage"
)

// TenantService manages the tenant registry. URL-suffix lookups sit on
// every request path of the routing layer, so they go through an LRU
// cache that is invalidated on any tenant write.
type TenantService struct {
	store       storage.Store
	children    *ChildService
	suffixCache *cache.LRU[core.Tenant]
	logger      *log.Logger
	now         func() time.Time
}

func NewTenantService(store storage.Store, children *ChildService, cacheSize int, cacheTTL time.Duration, logger *log.Logger) *TenantService {
	return &TenantService{
		store:       store,
		children:    children,
		suffixCache: cache.NewLRU[core.Tenant](cacheSize, cacheTTL),
		logger:      logger.WithComponent(log.ComponentTenant),
		now:         time.Now,
	}
}

// AddTenant validates and persists a new tenant. The URL suffix must be
// unique among non-deleted tenants, case-insensitively; a clash returns
// core.ErrConflict.
func (s *TenantService) AddTenant(ctx context.Context, tenant core.Tenant) (core.Tenant, error) {
	if err := tenant.Validate(); err != nil {
		return core.Tenant{}, fmt.Errorf("validate tenant: %w", err)
	}

	tenant.URLSuffix = strings.ToLower(strings.TrimSpace(tenant.URLSuffix))
	if _, err := s.store.GetTenantBySuffix(ctx, tenant.URLSuffix); err == nil {
		return core.Tenant{}, fmt.Errorf("suffix %q already in use: %w", tenant.URLSuffix, core.ErrConflict)
	} else if !errors.Is(err, core.ErrNotFound) {
		return core.Tenant{}, fmt.Errorf("check suffix: %w", err)
	}

	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	now := s.now().UTC()
	tenant.CreatedTimestamp = now
	tenant.UpdatedTimestamp = now
	tenant.Deleted = false

	created, err := s.store.CreateTenant(ctx, tenant)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}

	s.logger.InfoContext(ctx, "Tenant created",
		log.FieldTenantID, created.ID,
		log.FieldTenantSuffix, created.URLSuffix)

	return created, nil
}

// GetTenant returns the tenant, or core.ErrNotFound.
func (s *TenantService) GetTenant(ctx context.Context, id string) (core.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// GetTenantBySuffix resolves a URL suffix to its tenant, consulting the
// cache first.
func (s *TenantService) GetTenantBySuffix(ctx context.Context, suffix string) (core.Tenant, error) {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if tenant, ok := s.suffixCache.Get(suffix); ok {
		return tenant, nil
	}

	tenant, err := s.store.GetTenantBySuffix(ctx, suffix)
	if err != nil {
		return core.Tenant{}, err
	}

	s.suffixCache.Set(suffix, tenant)
	return tenant, nil
}

// Tenants lists all non-deleted tenants.
func (s *TenantService) Tenants(ctx context.Context) ([]core.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// UpdateTenant validates and persists the changed tenant and drops any
// cached suffix entries that may now be stale.
func (s *TenantService) UpdateTenant(ctx context.Context, tenant core.Tenant) (core.Tenant, error) {
	if err := tenant.Validate(); err != nil {
		return core.Tenant{}, fmt.Errorf("validate tenant: %w", err)
	}

	current, err := s.store.GetTenant(ctx, tenant.ID)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}

	tenant.URLSuffix = strings.ToLower(strings.TrimSpace(tenant.URLSuffix))
	if tenant.URLSuffix != current.URLSuffix {
		if _, err := s.store.GetTenantBySuffix(ctx, tenant.URLSuffix); err == nil {
			return core.Tenant{}, fmt.Errorf("suffix %q already in use: %w", tenant.URLSuffix, core.ErrConflict)
		} else if !errors.Is(err, core.ErrNotFound) {
			return core.Tenant{}, fmt.Errorf("check suffix: %w", err)
		}
	}

	tenant.UpdatedTimestamp = s.now().UTC()
	updated, err := s.store.UpdateTenant(ctx, tenant)
	if err != nil {
		return core.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}

	s.suffixCache.Delete(current.URLSuffix)
	s.suffixCache.Delete(updated.URLSuffix)

	return updated, nil
}

// DeleteTenant soft-deletes the tenant and all of its children. Deleting
// a tenant that is already gone is not an error. Ledger entries are kept;
// history must survive configuration changes.
func (s *TenantService) DeleteTenant(ctx context.Context, id string) error {
	tenant, err := s.store.GetTenant(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		s.logger.WarnContext(ctx, "Delete requested for missing or already deleted tenant",
			log.FieldTenantID, id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get tenant: %w", err)
	}

	children, err := s.children.Children(ctx, id)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	for _, child := range children {
		if err := s.children.DeleteChild(ctx, child.ID, id); err != nil {
			return fmt.Errorf("delete child %s: %w", child.ID, err)
		}
	}

	tenant.Deleted = true
	tenant.UpdatedTimestamp = s.now().UTC()
	if _, err := s.store.UpdateTenant(ctx, tenant); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}

	s.suffixCache.Delete(tenant.URLSuffix)
	s.logger.InfoContext(ctx, "Tenant deleted",
		log.FieldTenantID, id,
		log.FieldTenantSuffix, tenant.URLSuffix)

	return nil
}
