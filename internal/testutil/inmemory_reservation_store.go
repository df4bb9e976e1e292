package testutil

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/reservation"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryReservationStore implements reservation.Repository
type InMemoryReservationStore struct {
	*InMemoryStore[*reservation.Reservation]
}

// NewInMemoryReservationStore creates a new in-memory reservation store
func NewInMemoryReservationStore() *InMemoryReservationStore {
	return &InMemoryReservationStore{
		InMemoryStore: NewInMemoryStore[*reservation.Reservation](),
	}
}

func copyReservation(r *reservation.Reservation) *reservation.Reservation {
	if r == nil {
		return nil
	}
	copied := *r
	copied.BucketPlan = make([]reservation.BucketDebit, len(r.BucketPlan))
	copy(copied.BucketPlan, r.BucketPlan)
	return &copied
}

func (s *InMemoryReservationStore) Create(ctx context.Context, r *reservation.Reservation) error {
	// Correlation ids are globally unique, matching the column constraint.
	for _, existing := range s.InMemoryStore.List(ctx) {
		if existing.CorrelationID == r.CorrelationID {
			return ierr.NewError("reservation already exists for correlation id").
				WithReportableDetails(map[string]interface{}{"correlation_id": r.CorrelationID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, r.ID, copyReservation(r))
}

func (s *InMemoryReservationStore) GetByCorrelationID(ctx context.Context, correlationID string) (*reservation.Reservation, error) {
	found, ok := lo.Find(s.InMemoryStore.List(ctx), func(r *reservation.Reservation) bool {
		return r.CorrelationID == correlationID
	})
	if !ok {
		return nil, ierr.NewError("reservation not found").
			WithReportableDetails(map[string]interface{}{"correlation_id": correlationID}).
			Mark(ierr.ErrNotFound)
	}
	return copyReservation(found), nil
}

func (s *InMemoryReservationStore) Update(ctx context.Context, r *reservation.Reservation) error {
	return s.InMemoryStore.Update(ctx, r.ID, copyReservation(r))
}

func (s *InMemoryReservationStore) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*reservation.Reservation, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(r *reservation.Reservation, _ int) bool {
		return r.State == types.ReservationStatePending && !cutoff.Before(r.ExpiresAt)
	})
	return lo.Map(matched, func(r *reservation.Reservation, _ int) *reservation.Reservation {
		return copyReservation(r)
	}), nil
}
