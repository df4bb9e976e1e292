package testutil

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/domain/reminder"
	ierr "github.com/storyforge/metering/internal/errors"
)

// InMemoryReminderStore implements reminder.Repository
type InMemoryReminderStore struct {
	*InMemoryStore[*reminder.GraceReminder]
}

// NewInMemoryReminderStore creates a new in-memory grace reminder store
func NewInMemoryReminderStore() *InMemoryReminderStore {
	return &InMemoryReminderStore{
		InMemoryStore: NewInMemoryStore[*reminder.GraceReminder](),
	}
}

func copyReminder(r *reminder.GraceReminder) *reminder.GraceReminder {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func (s *InMemoryReminderStore) Create(ctx context.Context, r *reminder.GraceReminder) error {
	// Mirror the unique index on (tenant_id, milestone_day).
	for _, existing := range s.InMemoryStore.List(ctx) {
		if existing.TenantID == r.TenantID && existing.MilestoneDay == r.MilestoneDay {
			return ierr.NewError("reminder already sent for milestone").
				WithReportableDetails(map[string]interface{}{
					"tenant_id":     r.TenantID,
					"milestone_day": r.MilestoneDay,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	return s.InMemoryStore.Create(ctx, r.ID, copyReminder(r))
}

func (s *InMemoryReminderStore) ListByTenant(ctx context.Context, tenantID string) ([]*reminder.GraceReminder, error) {
	matched := lo.Filter(s.InMemoryStore.List(ctx), func(r *reminder.GraceReminder, _ int) bool {
		return r.TenantID == tenantID
	})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].MilestoneDay < matched[j].MilestoneDay
	})
	return lo.Map(matched, func(r *reminder.GraceReminder, _ int) *reminder.GraceReminder {
		return copyReminder(r)
	}), nil
}
