package testutil

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/ledger"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryLedgerStore implements ledger.Repository
type InMemoryLedgerStore struct {
	*InMemoryStore[*ledger.Entry]
}

// NewInMemoryLedgerStore creates a new in-memory ledger store
func NewInMemoryLedgerStore() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{
		InMemoryStore: NewInMemoryStore[*ledger.Entry](),
	}
}

func copyLedgerEntry(e *ledger.Entry) *ledger.Entry {
	if e == nil {
		return nil
	}
	copied := *e
	return &copied
}

func ledgerUniqueKey(e *ledger.Entry) string {
	return fmt.Sprintf("%s/%s/%s/%s", e.TenantID, e.CorrelationID, e.Bucket, e.EntryType)
}

func (s *InMemoryLedgerStore) Append(ctx context.Context, entries ...*ledger.Entry) error {
	// Mirror the unique index on (tenant_id, correlation_id, bucket,
	// entry_type): a replayed batch must fail before any row lands.
	existing := s.InMemoryStore.List(ctx)
	seen := make(map[string]bool, len(existing)+len(entries))
	for _, e := range existing {
		seen[ledgerUniqueKey(e)] = true
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		key := ledgerUniqueKey(e)
		if seen[key] {
			return ierr.NewError("duplicate ledger entry").
				WithReportableDetails(map[string]interface{}{
					"correlation_id": e.CorrelationID,
					"bucket":         e.Bucket,
					"entry_type":     e.EntryType,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		seen[key] = true
	}

	for _, e := range entries {
		if err := s.InMemoryStore.Create(ctx, e.ID, copyLedgerEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryLedgerStore) GetByCorrelationID(ctx context.Context, tenantID, correlationID string) ([]*ledger.Entry, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(e *ledger.Entry, _ int) bool {
		return e.TenantID == tenantID && e.CorrelationID == correlationID
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return lo.Map(matched, func(e *ledger.Entry, _ int) *ledger.Entry {
		return copyLedgerEntry(e)
	}), nil
}

func (s *InMemoryLedgerStore) ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*ledger.Entry, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(e *ledger.Entry, _ int) bool {
		if e.TenantID != tenantID {
			return false
		}
		if timeRange != nil {
			if timeRange.StartTime != nil && e.CreatedAt.Before(*timeRange.StartTime) {
				return false
			}
			if timeRange.EndTime != nil && e.CreatedAt.After(*timeRange.EndTime) {
				return false
			}
		}
		return true
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return lo.Map(matched, func(e *ledger.Entry, _ int) *ledger.Entry {
		return copyLedgerEntry(e)
	}), nil
}
