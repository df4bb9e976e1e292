package testutil

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/transition"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryTransitionStore implements transition.Repository
type InMemoryTransitionStore struct {
	*InMemoryStore[*transition.Record]
}

// NewInMemoryTransitionStore creates a new in-memory transition audit store
func NewInMemoryTransitionStore() *InMemoryTransitionStore {
	return &InMemoryTransitionStore{
		InMemoryStore: NewInMemoryStore[*transition.Record](),
	}
}

func copyTransition(r *transition.Record) *transition.Record {
	if r == nil {
		return nil
	}
	copied := *r
	if r.ExternalEventID != nil {
		id := *r.ExternalEventID
		copied.ExternalEventID = &id
	}
	return &copied
}

func (s *InMemoryTransitionStore) Create(ctx context.Context, r *transition.Record) error {
	// Mirror the partial unique index on (tenant_id, external_event_id).
	if r.ExternalEventID != nil {
		for _, existing := range s.InMemoryStore.List(ctx) {
			if existing.TenantID == r.TenantID &&
				existing.ExternalEventID != nil &&
				*existing.ExternalEventID == *r.ExternalEventID {
				return ierr.NewError("transition already recorded for event").
					WithReportableDetails(map[string]interface{}{
						"tenant_id":         r.TenantID,
						"external_event_id": *r.ExternalEventID,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
		}
	}
	return s.InMemoryStore.Create(ctx, r.ID, copyTransition(r))
}

func (s *InMemoryTransitionStore) GetByEventID(ctx context.Context, tenantID, externalEventID string) (*transition.Record, error) {
	for _, r := range s.InMemoryStore.List(ctx) {
		if r.TenantID == tenantID && r.ExternalEventID != nil && *r.ExternalEventID == externalEventID {
			return copyTransition(r), nil
		}
	}
	return nil, ierr.NewError("state transition not found").
		WithReportableDetails(map[string]interface{}{
			"tenant_id":         tenantID,
			"external_event_id": externalEventID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryTransitionStore) ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*transition.Record, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(r *transition.Record, _ int) bool {
		if r.TenantID != tenantID {
			return false
		}
		if timeRange != nil {
			if timeRange.StartTime != nil && r.CreatedAt.Before(*timeRange.StartTime) {
				return false
			}
			if timeRange.EndTime != nil && r.CreatedAt.After(*timeRange.EndTime) {
				return false
			}
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return lo.Map(matched, func(r *transition.Record, _ int) *transition.Record {
		return copyTransition(r)
	}), nil
}
