package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/credit"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// InMemoryCreditStore implements credit.Repository
type InMemoryCreditStore struct {
	*InMemoryStore[*credit.AddOnCredit]
}

// NewInMemoryCreditStore creates a new in-memory add-on credit store
func NewInMemoryCreditStore() *InMemoryCreditStore {
	return &InMemoryCreditStore{
		InMemoryStore: NewInMemoryStore[*credit.AddOnCredit](),
	}
}

func copyCredit(c *credit.AddOnCredit) *credit.AddOnCredit {
	if c == nil {
		return nil
	}
	copied := *c
	copied.ExpiresAt = copyTimePtr(c.ExpiresAt)
	return &copied
}

func (s *InMemoryCreditStore) Create(ctx context.Context, c *credit.AddOnCredit) error {
	// Mirror the partial unique index on (tenant_id, external_event_id).
	if c.ExternalEventID != "" {
		for _, existing := range s.InMemoryStore.List(ctx) {
			if existing.TenantID == c.TenantID && existing.ExternalEventID == c.ExternalEventID {
				return ierr.NewError("credit already granted for event").
					WithReportableDetails(map[string]interface{}{
						"tenant_id":         c.TenantID,
						"external_event_id": c.ExternalEventID,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
		}
	}
	return s.InMemoryStore.Create(ctx, c.ID, copyCredit(c))
}

func (s *InMemoryCreditStore) Get(ctx context.Context, id string) (*credit.AddOnCredit, error) {
	c, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyCredit(c), nil
}

func (s *InMemoryCreditStore) Update(ctx context.Context, c *credit.AddOnCredit) error {
	return s.InMemoryStore.Update(ctx, c.ID, copyCredit(c))
}

func (s *InMemoryCreditStore) GetByEventID(ctx context.Context, tenantID, externalEventID string) (*credit.AddOnCredit, error) {
	for _, c := range s.InMemoryStore.List(ctx) {
		if c.TenantID == tenantID && c.ExternalEventID == externalEventID {
			return copyCredit(c), nil
		}
	}
	return nil, ierr.NewError("add-on credit not found").
		WithReportableDetails(map[string]interface{}{
			"tenant_id":         tenantID,
			"external_event_id": externalEventID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryCreditStore) ListActive(ctx context.Context, tenantID string) ([]*credit.AddOnCredit, error) {
	// Mirror the SQL predicates: active status and unexpired, regardless
	// of remaining balance.
	now := time.Now().UTC()
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(c *credit.AddOnCredit, _ int) bool {
		return c.TenantID == tenantID &&
			c.CreditStatus == types.CreditStatusActive &&
			(c.ExpiresAt == nil || c.ExpiresAt.After(now))
	})
	// Soonest expiry first, nil expiry last, creation time as tiebreaker.
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
	})
	return lo.Map(matched, func(c *credit.AddOnCredit, _ int) *credit.AddOnCredit {
		return copyCredit(c)
	}), nil
}

func (s *InMemoryCreditStore) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*credit.AddOnCredit, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(c *credit.AddOnCredit, _ int) bool {
		return c.CreditStatus == types.CreditStatusActive &&
			c.ExpiresAt != nil && !cutoff.Before(*c.ExpiresAt)
	})
	return lo.Map(matched, func(c *credit.AddOnCredit, _ int) *credit.AddOnCredit {
		return copyCredit(c)
	}), nil
}
