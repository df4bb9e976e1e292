package tenant

import (
	"context"

	"github.com/storyforge/metering/internal/types"
)

// Repository defines the interface for tenant persistence operations
type Repository interface {
	// Create creates a new tenant
	Create(ctx context.Context, t *Tenant) error

	// Get retrieves a tenant by id
	Get(ctx context.Context, id string) (*Tenant, error)

	// Update persists mutable tenant fields (tier, status, seats, grace window)
	Update(ctx context.Context, t *Tenant) error

	// ListByStatus retrieves all tenants in the given status, used by sweeps
	ListByStatus(ctx context.Context, status types.SubscriptionStatus) ([]*Tenant, error)

	// List retrieves all non-deleted tenants, used by the rollover sweep
	List(ctx context.Context, filter *types.QueryFilter) ([]*Tenant, error)
}
