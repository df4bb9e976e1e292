package testutil

import (
	"context"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryTenantStore implements tenant.Repository
type InMemoryTenantStore struct {
	*InMemoryStore[*tenant.Tenant]
}

// NewInMemoryTenantStore creates a new in-memory tenant store
func NewInMemoryTenantStore() *InMemoryTenantStore {
	return &InMemoryTenantStore{
		InMemoryStore: NewInMemoryStore[*tenant.Tenant](),
	}
}

// Helper to copy tenant
func copyTenant(t *tenant.Tenant) *tenant.Tenant {
	if t == nil {
		return nil
	}

	copied := *t
	copied.TrialEndsAt = copyTimePtr(t.TrialEndsAt)
	copied.GraceStartedAt = copyTimePtr(t.GraceStartedAt)
	copied.GraceExpiresAt = copyTimePtr(t.GraceExpiresAt)
	return &copied
}

func (s *InMemoryTenantStore) Create(ctx context.Context, t *tenant.Tenant) error {
	return s.InMemoryStore.Create(ctx, t.ID, copyTenant(t))
}

func (s *InMemoryTenantStore) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	t, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyTenant(t), nil
}

func (s *InMemoryTenantStore) Update(ctx context.Context, t *tenant.Tenant) error {
	return s.InMemoryStore.Update(ctx, t.ID, copyTenant(t))
}

func (s *InMemoryTenantStore) ListByStatus(ctx context.Context, status types.SubscriptionStatus) ([]*tenant.Tenant, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(t *tenant.Tenant, _ int) bool {
		return t.SubscriptionStatus == status && t.Status == types.StatusPublished
	})
	return lo.Map(matched, func(t *tenant.Tenant, _ int) *tenant.Tenant {
		return copyTenant(t)
	}), nil
}

func (s *InMemoryTenantStore) List(ctx context.Context, filter *types.QueryFilter) ([]*tenant.Tenant, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(t *tenant.Tenant, _ int) bool {
		return t.Status == types.StatusPublished
	})
	out := lo.Map(matched, func(t *tenant.Tenant, _ int) *tenant.Tenant {
		return copyTenant(t)
	})
	if len(out) > filter.GetLimit() {
		out = out[:filter.GetLimit()]
	}
	return out, nil
}
