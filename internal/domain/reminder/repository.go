package reminder

import "context"

// Repository defines the interface for grace reminder persistence operations
type Repository interface {
	// Create inserts a reminder row. Inserting a duplicate
	// (tenant_id, milestone_day) must fail with an already-exists error;
	// the sweep treats that as "already sent" and moves on.
	Create(ctx context.Context, r *GraceReminder) error

	// ListByTenant retrieves the reminders already sent to a tenant
	ListByTenant(ctx context.Context, tenantID string) ([]*GraceReminder, error)
}
