package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// NextRollover computes the allowance carried into the next period.
// unused = max(0, base + priorRollover - consumed); the carried amount is
// unused * rate, capped at capFraction * base. Tiers without rollover always
// carry zero.
func NextRollover(entitlement types.TierEntitlement, base, priorRollover, consumed decimal.Decimal) decimal.Decimal {
	if !entitlement.SupportsRollover() {
		return decimal.Zero
	}

	unused := decimal.Max(decimal.Zero, base.Add(priorRollover).Sub(consumed))
	carried := unused.Mul(entitlement.RolloverRate)
	cap := base.Mul(entitlement.RolloverCapFraction)
	return decimal.Min(carried, cap)
}

// ProratedDelta computes the immediate allowance change for a mid-period
// seat or tier change: delta * perUnit * remaining/period. The fraction is
// computed on elapsed duration, so a change at the exact midpoint of the
// period yields exactly half the per-unit amount.
func ProratedDelta(delta int64, perUnit decimal.Decimal, now, periodStart, periodEnd time.Time) decimal.Decimal {
	periodSeconds := int64(periodEnd.Sub(periodStart) / time.Second)
	if periodSeconds <= 0 {
		return decimal.Zero
	}
	remainingSeconds := int64(periodEnd.Sub(now) / time.Second)
	if remainingSeconds <= 0 {
		return decimal.Zero
	}
	if remainingSeconds > periodSeconds {
		remainingSeconds = periodSeconds
	}

	fraction := decimal.NewFromInt(remainingSeconds).Div(decimal.NewFromInt(periodSeconds))
	return decimal.NewFromInt(delta).Mul(perUnit).Mul(fraction)
}

// addMonthsClamped advances t by n months, clamping the day of month to the
// last valid day of the target month. This keeps anchor days of 29/30/31
// from drifting: Jan 31 + 1 month = Feb 28 (or 29), not Mar 3.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	targetMonth := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := targetMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(targetMonth.Year(), targetMonth.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// PeriodBounds returns the billing period [start, end) containing at,
// anchored on the tenant's billing anchor date. An anchor ahead of at walks
// backward, so the returned period always covers at.
func PeriodBounds(anchor, at time.Time) (time.Time, time.Time) {
	// Walk the anchor in whole months until the period containing at is
	// found. Each step re-clamps against the anchor's original day so
	// short months never shift the schedule.
	months := 0
	for {
		start := addMonthsClamped(anchor, months)
		if start.After(at) {
			months--
			continue
		}
		end := addMonthsClamped(anchor, months+1)
		if end.After(at) {
			return start, end
		}
		months++
	}
}

// RolloverService performs period rollover: it closes the current snapshot
// and materializes the next one with carried rollover and refreshed add-on
// buckets.
type RolloverService interface {
	// RollTenant rolls the tenant into the period containing now. It is a
	// no-op when the current snapshot already covers now, which makes the
	// rollover sweep safely re-runnable.
	RollTenant(ctx context.Context, tenantID string, now time.Time) error
}

type rolloverService struct {
	ServiceParams
}

// NewRolloverService creates a new rollover service
func NewRolloverService(p ServiceParams) RolloverService {
	return &rolloverService{ServiceParams: p}
}

func (s *rolloverService) RollTenant(ctx context.Context, tenantID string, now time.Time) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.DB.LockKey(ctx, types.QuotaLockKey(tenantID), s.Config.Metering.LockTimeout); err != nil {
			return ierr.WithError(err).
				WithHint("Could not acquire the tenant quota lock").
				Mark(ierr.ErrDatabase)
		}

		t, err := s.TenantRepo.Get(ctx, tenantID)
		if err != nil {
			return err
		}

		current, err := s.QuotaRepo.GetCurrent(ctx, tenantID)
		if err != nil {
			return err
		}

		if current.Contains(now) {
			return nil
		}
		if now.Before(current.PeriodStart) {
			// The snapshot's period has not begun. Rolling here would mint
			// a fresh allowance and zero consumption on every call, so the
			// unstarted snapshot stays in place instead.
			return nil
		}

		entitlement := t.Entitlement()
		rollover := NextRollover(entitlement, current.BaseAllowance, current.RolloverBalance, current.Consumed)

		if err := s.QuotaRepo.CloseCurrent(ctx, tenantID); err != nil {
			return err
		}

		boosterTotal, packTotal, err := s.refreshAddOnBuckets(ctx, tenantID, now)
		if err != nil {
			return err
		}

		start, end := PeriodBounds(t.BillingAnchor, now)
		base := PooledAllowance(entitlement, t.SeatCount)

		next := &quota.Snapshot{
			ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
			TenantID:        tenantID,
			PeriodStart:     start,
			PeriodEnd:       end,
			BaseAllowance:   base,
			RolloverBalance: rollover,
			BoosterCredits:  boosterTotal,
			PackCredits:     packTotal,
			Consumed:        decimal.Zero,
			Pending:         decimal.Zero,
			Current:         true,
			BaseModel:       types.GetDefaultBaseModel(tenantID, types.GetUserID(ctx)),
		}
		if err := s.QuotaRepo.Create(ctx, next); err != nil {
			return err
		}

		grantTotal := base.Add(rollover)
		entry := &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      tenantID,
			SnapshotID:    next.ID,
			CorrelationID: "rollover_" + next.ID,
			Amount:        grantTotal,
			Bucket:        types.CreditBucketBase,
			EntryType:     types.LedgerEntryTypeCredit,
			ActorID:       types.DefaultUserID,
			CreatedAt:     now,
		}
		if err := s.LedgerRepo.Append(ctx, entry); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(tenantID))
		s.Logger.Infow("rolled tenant into new period",
			"tenant_id", tenantID,
			"period_start", start,
			"period_end", end,
			"base_allowance", base,
			"rollover", rollover,
		)
		return nil
	})
}

// refreshAddOnBuckets recomputes booster and pack bucket totals for a new
// period. Boosters are recurring: their consumption resets each period.
// Packs carry only their unconsumed remainder.
func (s *rolloverService) refreshAddOnBuckets(ctx context.Context, tenantID string, now time.Time) (decimal.Decimal, decimal.Decimal, error) {
	credits, err := s.CreditRepo.ListActive(ctx, tenantID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	boosterTotal := decimal.Zero
	packTotal := decimal.Zero
	for _, c := range credits {
		switch c.CreditType {
		case types.CreditTypeBooster:
			if c.AmountConsumed.IsPositive() {
				c.AmountConsumed = decimal.Zero
				c.UpdatedAt = now
				c.UpdatedBy = types.DefaultUserID
				if err := s.CreditRepo.Update(ctx, c); err != nil {
					return decimal.Zero, decimal.Zero, err
				}
			}
			boosterTotal = boosterTotal.Add(c.AmountGranted)
		case types.CreditTypePack:
			packTotal = packTotal.Add(c.Remaining())
		}
	}
	return boosterTotal, packTotal, nil
}
