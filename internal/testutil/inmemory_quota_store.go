package testutil

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/quota"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryQuotaStore implements quota.Repository
type InMemoryQuotaStore struct {
	*InMemoryStore[*quota.Snapshot]
}

// NewInMemoryQuotaStore creates a new in-memory quota snapshot store
func NewInMemoryQuotaStore() *InMemoryQuotaStore {
	return &InMemoryQuotaStore{
		InMemoryStore: NewInMemoryStore[*quota.Snapshot](),
	}
}

// Helper to copy snapshot
func copySnapshot(snap *quota.Snapshot) *quota.Snapshot {
	if snap == nil {
		return nil
	}
	copied := *snap
	return &copied
}

func (s *InMemoryQuotaStore) Create(ctx context.Context, snap *quota.Snapshot) error {
	if snap.Current {
		// Mirror the partial unique index: one current snapshot per tenant.
		for _, existing := range s.InMemoryStore.List(ctx) {
			if existing.TenantID == snap.TenantID && existing.Current {
				return ierr.NewError("tenant already has a current snapshot").
					WithReportableDetails(map[string]interface{}{"tenant_id": snap.TenantID}).
					Mark(ierr.ErrAlreadyExists)
			}
		}
	}
	return s.InMemoryStore.Create(ctx, snap.ID, copySnapshot(snap))
}

func (s *InMemoryQuotaStore) Get(ctx context.Context, id string) (*quota.Snapshot, error) {
	snap, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copySnapshot(snap), nil
}

func (s *InMemoryQuotaStore) GetCurrent(ctx context.Context, tenantID string) (*quota.Snapshot, error) {
	current, found := lo.Find(s.InMemoryStore.List(ctx), func(snap *quota.Snapshot) bool {
		return snap.TenantID == tenantID && snap.Current
	})
	if !found {
		return nil, ierr.NewError("no current snapshot for tenant").
			WithReportableDetails(map[string]interface{}{"tenant_id": tenantID}).
			Mark(ierr.ErrNotFound)
	}
	return copySnapshot(current), nil
}

func (s *InMemoryQuotaStore) Update(ctx context.Context, snap *quota.Snapshot) error {
	return s.InMemoryStore.Update(ctx, snap.ID, copySnapshot(snap))
}

func (s *InMemoryQuotaStore) CloseCurrent(ctx context.Context, tenantID string) error {
	for _, snap := range s.InMemoryStore.List(ctx) {
		if snap.TenantID == tenantID && snap.Current {
			closed := copySnapshot(snap)
			closed.Current = false
			return s.InMemoryStore.Update(ctx, closed.ID, closed)
		}
	}
	return nil
}

func (s *InMemoryQuotaStore) ListHistory(ctx context.Context, tenantID string, filter *types.QueryFilter) ([]*quota.Snapshot, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(snap *quota.Snapshot, _ int) bool {
		return snap.TenantID == tenantID && !snap.Current
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].PeriodStart.After(matched[j].PeriodStart)
	})
	out := lo.Map(matched, func(snap *quota.Snapshot, _ int) *quota.Snapshot {
		return copySnapshot(snap)
	})
	if len(out) > filter.GetLimit() {
		out = out[:filter.GetLimit()]
	}
	return out, nil
}
