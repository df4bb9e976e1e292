package quota

import (
	"context"

	"github.com/storyforge/metering/internal/types"
)

// Repository defines the interface for quota snapshot persistence operations.
// All mutations are expected to run inside a transaction holding the
// per-tenant quota lock.
type Repository interface {
	// Create inserts a new snapshot
	Create(ctx context.Context, s *Snapshot) error

	// Get retrieves a snapshot by id, current or historical
	Get(ctx context.Context, id string) (*Snapshot, error)

	// GetCurrent retrieves the tenant's current-period snapshot
	GetCurrent(ctx context.Context, tenantID string) (*Snapshot, error)

	// Update persists counter and flag changes on a snapshot
	Update(ctx context.Context, s *Snapshot) error

	// CloseCurrent marks the tenant's current snapshot as historical
	CloseCurrent(ctx context.Context, tenantID string) error

	// ListHistory retrieves historical snapshots for a tenant, newest first
	ListHistory(ctx context.Context, tenantID string, filter *types.QueryFilter) ([]*Snapshot, error)
}
