package transition

import (
	"context"

	"github.com/storyforge/metering/internal/types"
)

// Repository defines the interface for state transition audit persistence.
// Records are append-only and never mutated or deleted.
type Repository interface {
	// Create appends a transition record. Creating a record whose
	// (tenant_id, external_event_id) already exists must fail with an
	// already-exists error so webhook replays cause no duplicate rows.
	Create(ctx context.Context, r *Record) error

	// GetByEventID retrieves the record written for a provider event, used
	// to detect webhook replays before inserting
	GetByEventID(ctx context.Context, tenantID, externalEventID string) (*Record, error)

	// ListByTenant retrieves records for a tenant within a time range,
	// oldest first
	ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*Record, error)
}
