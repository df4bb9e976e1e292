package reservation

import (
	"context"
	"time"
)

// Repository defines the interface for reservation persistence operations
type Repository interface {
	// Create inserts a reservation. Creating one whose correlation id
	// already exists must fail with an already-exists error; callers treat
	// that as an idempotent replay and return the stored reservation.
	Create(ctx context.Context, r *Reservation) error

	// GetByCorrelationID retrieves a reservation by its correlation id
	GetByCorrelationID(ctx context.Context, correlationID string) (*Reservation, error)

	// Update persists state changes
	Update(ctx context.Context, r *Reservation) error

	// ListExpiredBefore retrieves pending reservations whose TTL elapsed
	// before the cutoff, across all tenants, used by the expiry sweep
	ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*Reservation, error)
}
