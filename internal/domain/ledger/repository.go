package ledger

import (
	"context"

	"github.com/storyforge/metering/internal/types"
)

// Repository defines the interface for ledger persistence. The ledger is
// append-only: there are no update or delete operations.
type Repository interface {
	// Append inserts entries. Inserting an entry whose
	// (tenant_id, correlation_id, bucket, entry_type) already exists must
	// fail with an already-exists error so callers can detect replays.
	Append(ctx context.Context, entries ...*Entry) error

	// GetByCorrelationID retrieves all entries sharing a correlation id
	GetByCorrelationID(ctx context.Context, tenantID, correlationID string) ([]*Entry, error)

	// ListByTenant retrieves entries for a tenant within a time range,
	// oldest first
	ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*Entry, error)
}
