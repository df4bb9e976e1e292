package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/reservation"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// CreditResolverService plans and applies deductions across credit buckets in
// fixed priority order: base, rollover, booster, pack. Regenerating credit is
// spent first so purchased add-on balance survives longest within a period.
type CreditResolverService interface {
	// ResolveDebit splits amount across buckets with remaining balance.
	// Returns ErrInsufficientCredit when the buckets cannot cover the full
	// amount; no partial plan is ever returned (all-or-nothing).
	ResolveDebit(ctx context.Context, snap *quota.Snapshot, amount decimal.Decimal) ([]reservation.BucketDebit, error)

	// ApplyDebit writes one debit ledger entry per bucket touched, all
	// sharing the correlation id, and records consumption on the add-on
	// credit rows funding the booster and pack buckets.
	ApplyDebit(ctx context.Context, snap *quota.Snapshot, debits []reservation.BucketDebit, correlationID string) error
}

type creditResolverService struct {
	ServiceParams
}

// NewCreditResolverService creates a new credit resolver service
func NewCreditResolverService(p ServiceParams) CreditResolverService {
	return &creditResolverService{ServiceParams: p}
}

// remainingByBucket derives each bucket's remaining balance from the
// snapshot's cumulative usage. Because consumption order is fixed, the split
// is fully determined by consumed+pending: base drains first, then rollover,
// then booster, then pack.
func remainingByBucket(snap *quota.Snapshot) map[types.CreditBucket]decimal.Decimal {
	used := snap.Consumed.Add(snap.Pending)
	remaining := make(map[types.CreditBucket]decimal.Decimal, 4)

	for _, bucket := range types.CreditBucketPriority() {
		granted := snap.BucketBalance(bucket)
		drawn := decimal.Min(granted, decimal.Max(used, decimal.Zero))
		remaining[bucket] = granted.Sub(drawn)
		used = used.Sub(drawn)
	}

	return remaining
}

func (s *creditResolverService) ResolveDebit(ctx context.Context, snap *quota.Snapshot, amount decimal.Decimal) ([]reservation.BucketDebit, error) {
	if !amount.IsPositive() {
		return nil, ierr.NewError("amount must be positive").
			WithHint("Deduction amounts must be greater than zero").
			Mark(ierr.ErrValidation)
	}

	if snap.OverLimit {
		return nil, ierr.NewError("tenant is over limit").
			WithHint("The allowance shrank below consumption; spending resumes at the next period reset").
			WithReportableDetails(map[string]interface{}{
				"required":  amount,
				"remaining": decimal.Zero,
			}).
			Mark(ierr.ErrInsufficientCredit)
	}

	remaining := remainingByBucket(snap)

	var debits []reservation.BucketDebit
	outstanding := amount
	for _, bucket := range types.CreditBucketPriority() {
		if !outstanding.IsPositive() {
			break
		}
		available := remaining[bucket]
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(available, outstanding)
		debits = append(debits, reservation.BucketDebit{Bucket: bucket, Amount: take})
		outstanding = outstanding.Sub(take)
	}

	if outstanding.IsPositive() {
		return nil, ierr.NewError("insufficient credit").
			WithHint("Not enough credit remains across all buckets").
			WithReportableDetails(map[string]interface{}{
				"required":  amount,
				"remaining": snap.Available(),
			}).
			Mark(ierr.ErrInsufficientCredit)
	}

	return debits, nil
}

func (s *creditResolverService) ApplyDebit(ctx context.Context, snap *quota.Snapshot, debits []reservation.BucketDebit, correlationID string) error {
	now := time.Now().UTC()
	actor := types.GetUserID(ctx)

	entries := make([]*ledger.Entry, 0, len(debits))
	for _, d := range debits {
		entries = append(entries, &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      snap.TenantID,
			SnapshotID:    snap.ID,
			CorrelationID: correlationID,
			Amount:        d.Amount.Neg(),
			Bucket:        d.Bucket,
			EntryType:     types.LedgerEntryTypeDebit,
			ActorID:       actor,
			CreatedAt:     now,
		})
	}

	if err := s.LedgerRepo.Append(ctx, entries...); err != nil {
		return err
	}

	return s.consumeAddOnCredits(ctx, snap.TenantID, debits)
}

// consumeAddOnCredits attributes booster/pack bucket debits to individual
// credit rows, soonest expiry first.
func (s *creditResolverService) consumeAddOnCredits(ctx context.Context, tenantID string, debits []reservation.BucketDebit) error {
	addOnTotal := decimal.Zero
	perBucket := make(map[types.CreditBucket]decimal.Decimal, 2)
	for _, d := range debits {
		if d.Bucket == types.CreditBucketBooster || d.Bucket == types.CreditBucketPack {
			perBucket[d.Bucket] = perBucket[d.Bucket].Add(d.Amount)
			addOnTotal = addOnTotal.Add(d.Amount)
		}
	}
	if !addOnTotal.IsPositive() {
		return nil
	}

	credits, err := s.CreditRepo.ListActive(ctx, tenantID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for bucket, outstanding := range perBucket {
		funding := lo.Filter(credits, func(c *credit.AddOnCredit, _ int) bool {
			return c.CreditType.Bucket() == bucket && c.Consumable(now)
		})
		for _, c := range funding {
			if !outstanding.IsPositive() {
				break
			}
			take := decimal.Min(c.Remaining(), outstanding)
			c.AmountConsumed = c.AmountConsumed.Add(take)
			c.UpdatedAt = now
			c.UpdatedBy = types.GetUserID(ctx)
			if err := s.CreditRepo.Update(ctx, c); err != nil {
				return err
			}
			outstanding = outstanding.Sub(take)
		}
		if outstanding.IsPositive() {
			// The snapshot said the bucket had balance but the credit rows
			// disagree; fail closed rather than under-attribute.
			return ierr.NewError("add-on credit rows do not cover snapshot balance").
				WithReportableDetails(map[string]interface{}{
					"tenant_id": tenantID,
					"bucket":    bucket,
					"shortfall": outstanding,
				}).
				Mark(ierr.ErrInternal)
		}
	}

	return nil
}
