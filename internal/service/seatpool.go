package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/cache"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// PooledAllowance computes the period allowance for a tier and seat count.
// Seat-priced tiers pool base + seats * perSeat across all members; other
// tiers ignore the seat count entirely.
func PooledAllowance(entitlement types.TierEntitlement, seatCount int) decimal.Decimal {
	if !entitlement.SeatPriced() {
		return entitlement.BaseAllowance
	}
	return entitlement.BaseAllowance.
		Add(decimal.NewFromInt(int64(seatCount)).Mul(entitlement.PerSeatAllowance))
}

// SeatPoolService reconciles seat count changes against the current quota
// snapshot.
type SeatPoolService interface {
	// ChangeSeats updates the tenant's seat count and applies the prorated
	// allowance delta to the current snapshot immediately. A decrease that
	// leaves consumed above the new allowance marks the snapshot over-limit;
	// in-flight reservations are not invalidated.
	ChangeSeats(ctx context.Context, tenantID string, newSeatCount int) error
}

type seatPoolService struct {
	ServiceParams
}

// NewSeatPoolService creates a new seat pool service
func NewSeatPoolService(p ServiceParams) SeatPoolService {
	return &seatPoolService{ServiceParams: p}
}

func (s *seatPoolService) ChangeSeats(ctx context.Context, tenantID string, newSeatCount int) error {
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

		entitlement := t.Entitlement()
		if !entitlement.SeatPriced() {
			return ierr.NewError("tier is not seat priced").
				WithHintf("The %s tier does not pool allowance across seats", t.Tier).
				WithReportableDetails(map[string]interface{}{"tier": t.Tier}).
				Mark(ierr.ErrInvalidOperation)
		}
		if newSeatCount < entitlement.MinSeats {
			return ierr.NewError("seat count below tier minimum").
				WithHintf("The %s tier requires at least %d seats", t.Tier, entitlement.MinSeats).
				WithReportableDetails(map[string]interface{}{
					"tier":       t.Tier,
					"seat_count": newSeatCount,
					"min_seats":  entitlement.MinSeats,
				}).
				Mark(ierr.ErrValidation)
		}
		if newSeatCount == t.SeatCount {
			return nil
		}

		snap, err := s.QuotaRepo.GetCurrent(ctx, tenantID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		seatDelta := int64(newSeatCount - t.SeatCount)
		delta := ProratedDelta(seatDelta, entitlement.PerSeatAllowance, now, snap.PeriodStart, snap.PeriodEnd)

		snap.BaseAllowance = decimal.Max(decimal.Zero, snap.BaseAllowance.Add(delta))

		// A shrink can leave the tenant over its new allowance. Existing
		// consumption stands; further reserves are denied until the next
		// period restores headroom.
		overLimit := snap.Consumed.Add(snap.Pending).GreaterThan(snap.TotalAllowance())
		snap.OverLimit = overLimit
		snap.UpdatedAt = now
		snap.UpdatedBy = types.GetUserID(ctx)

		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		t.SeatCount = newSeatCount
		t.UpdatedAt = now
		t.UpdatedBy = types.GetUserID(ctx)
		if err := s.TenantRepo.Update(ctx, t); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(tenantID))
		s.Logger.Infow("reconciled seat pool",
			"tenant_id", tenantID,
			"seat_delta", seatDelta,
			"allowance_delta", delta,
			"over_limit", overLimit,
		)
		return nil
	})
}
