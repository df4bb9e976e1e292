package credit

import (
	"context"
	"time"
)

// Repository defines the interface for add-on credit persistence operations
type Repository interface {
	// Create creates a new add-on credit. Creating a credit whose
	// (tenant_id, external_event_id) already exists must fail with an
	// already-exists error so webhook replays cause no duplicate grants.
	Create(ctx context.Context, c *AddOnCredit) error

	// Get retrieves an add-on credit by id
	Get(ctx context.Context, id string) (*AddOnCredit, error)

	// Update persists consumption and status changes
	Update(ctx context.Context, c *AddOnCredit) error

	// ListActive retrieves the tenant's active, unexpired credits ordered
	// by expiry (soonest first, nil expiry last), then creation time. A
	// fully consumed credit is still listed: recurring boosters reset
	// their consumption at rollover, so a drained row stays relevant.
	ListActive(ctx context.Context, tenantID string) ([]*AddOnCredit, error)

	// GetByEventID retrieves the credit created for a provider purchase
	// event, used to detect webhook replays before inserting
	GetByEventID(ctx context.Context, tenantID, externalEventID string) (*AddOnCredit, error)

	// ListExpiredBefore retrieves active credits whose expiry has passed,
	// across all tenants, used by the expiry sweep
	ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*AddOnCredit, error)
}
