package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/reservation"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// sweepMaxRetries bounds the backoff retries around one tenant's unit of
// work inside a sweep.
const sweepMaxRetries = 3

// SweepService hosts the periodic jobs invoked by the external scheduler.
// Every sweep is idempotent and processes tenants independently: one
// tenant's failure is logged and skipped, never blocking the rest.
type SweepService interface {
	// RolloverSweep rolls every tenant whose billing period has ended into
	// the next period.
	RolloverSweep(ctx context.Context) error

	// GraceSweep cancels past_due tenants whose grace window elapsed and
	// sends outstanding reminder milestones.
	GraceSweep(ctx context.Context) error

	// PackExpirySweep expires one-time packs past their expiry, forfeiting
	// the unused balance with an audit ledger entry.
	PackExpirySweep(ctx context.Context) error

	// ReservationSweep releases pending reservations that outlived their
	// TTL, so a crashed caller cannot permanently lock up quota.
	ReservationSweep(ctx context.Context) error
}

type sweepService struct {
	ServiceParams
	rollover  RolloverService
	lifecycle LifecycleService
}

// NewSweepService creates a new sweep service
func NewSweepService(p ServiceParams, rollover RolloverService, lifecycle LifecycleService) SweepService {
	return &sweepService{
		ServiceParams: p,
		rollover:      rollover,
		lifecycle:     lifecycle,
	}
}

// retryTransient retries fn on transient store errors only; business errors
// surface immediately.
func retryTransient(ctx context.Context, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ierr.IsDatabase(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sweepMaxRetries),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}

func (s *sweepService) RolloverSweep(ctx context.Context) error {
	now := time.Now().UTC()
	tenants, err := s.TenantRepo.List(ctx, &types.QueryFilter{Limit: lo.ToPtr(10000)})
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.Config.Metering.SweepWorkers)
	for _, t := range tenants {
		p.Go(func() {
			if err := retryTransient(ctx, func() error {
				return s.rollover.RollTenant(ctx, t.ID, now)
			}); err != nil {
				s.Logger.Errorw("rollover sweep failed for tenant",
					"tenant_id", t.ID,
					"error", err,
				)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("rollover sweep completed", "tenants", len(tenants))
	return nil
}

func (s *sweepService) GraceSweep(ctx context.Context) error {
	now := time.Now().UTC()
	tenants, err := s.TenantRepo.ListByStatus(ctx, types.SubscriptionStatusPastDue)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.Config.Metering.SweepWorkers)
	for _, t := range tenants {
		p.Go(func() {
			if err := retryTransient(ctx, func() error {
				return s.lifecycle.EnforceGrace(ctx, t, now)
			}); err != nil {
				s.Logger.Errorw("grace sweep failed for tenant",
					"tenant_id", t.ID,
					"error", err,
				)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("grace sweep completed", "tenants", len(tenants))
	return nil
}

func (s *sweepService) PackExpirySweep(ctx context.Context) error {
	now := time.Now().UTC()
	expired, err := s.CreditRepo.ListExpiredBefore(ctx, now)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.Config.Metering.SweepWorkers)
	for _, c := range expired {
		p.Go(func() {
			if err := retryTransient(ctx, func() error {
				return s.expireCredit(ctx, c, now)
			}); err != nil {
				s.Logger.Errorw("pack expiry sweep failed for credit",
					"credit_id", c.ID,
					"tenant_id", c.TenantID,
					"error", err,
				)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("pack expiry sweep completed", "credits", len(expired))
	return nil
}

// expireCredit forfeits one credit's unused balance under the tenant lock.
func (s *sweepService) expireCredit(ctx context.Context, c *credit.AddOnCredit, now time.Time) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.DB.LockKey(ctx, types.QuotaLockKey(c.TenantID), s.Config.Metering.LockTimeout); err != nil {
			return ierr.WithError(err).
				WithHint("Could not acquire the tenant quota lock").
				Mark(ierr.ErrDatabase)
		}

		// Re-read under the lock; a concurrent sweep may have expired it.
		fresh, err := s.CreditRepo.Get(ctx, c.ID)
		if err != nil {
			return err
		}
		if fresh.CreditStatus != types.CreditStatusActive {
			return nil
		}

		forfeited := fresh.Remaining()
		fresh.CreditStatus = types.CreditStatusExpired
		fresh.UpdatedAt = now
		fresh.UpdatedBy = types.DefaultUserID
		if err := s.CreditRepo.Update(ctx, fresh); err != nil {
			return err
		}

		snap, err := s.QuotaRepo.GetCurrent(ctx, fresh.TenantID)
		if err != nil {
			return err
		}

		bucket := fresh.CreditType.Bucket()
		switch bucket {
		case types.CreditBucketBooster:
			snap.BoosterCredits = decimal.Max(decimal.Zero, snap.BoosterCredits.Sub(forfeited))
		case types.CreditBucketPack:
			snap.PackCredits = decimal.Max(decimal.Zero, snap.PackCredits.Sub(forfeited))
		}
		snap.UpdatedAt = now
		snap.UpdatedBy = types.DefaultUserID
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		if forfeited.IsPositive() {
			entry := &ledger.Entry{
				ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
				TenantID:      fresh.TenantID,
				SnapshotID:    snap.ID,
				CorrelationID: "expire_" + fresh.ID,
				Amount:        forfeited.Neg(),
				Bucket:        bucket,
				EntryType:     types.LedgerEntryTypeForfeit,
				ActorID:       types.DefaultUserID,
				CreatedAt:     now,
			}
			if err := s.LedgerRepo.Append(ctx, entry); err != nil {
				return err
			}
		}

		s.Logger.Infow("expired add-on credit",
			"credit_id", fresh.ID,
			"tenant_id", fresh.TenantID,
			"forfeited", forfeited,
		)
		return nil
	})
}

func (s *sweepService) ReservationSweep(ctx context.Context) error {
	now := time.Now().UTC()
	stale, err := s.ReservationRepo.ListExpiredBefore(ctx, now)
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(s.Config.Metering.SweepWorkers)
	for _, rsv := range stale {
		p.Go(func() {
			if err := retryTransient(ctx, func() error {
				return s.expireReservation(ctx, rsv, now)
			}); err != nil {
				s.Logger.Errorw("reservation sweep failed",
					"correlation_id", rsv.CorrelationID,
					"tenant_id", rsv.TenantID,
					"error", err,
				)
			}
		})
	}
	p.Wait()

	s.Logger.Infow("reservation sweep completed", "reservations", len(stale))
	return nil
}

// expireReservation releases one stale pending reservation under the tenant
// lock.
func (s *sweepService) expireReservation(ctx context.Context, rsv *reservation.Reservation, now time.Time) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.DB.LockKey(ctx, types.QuotaLockKey(rsv.TenantID), s.Config.Metering.LockTimeout); err != nil {
			return ierr.WithError(err).
				WithHint("Could not acquire the tenant quota lock").
				Mark(ierr.ErrDatabase)
		}

		// Re-read under the lock; the caller may have committed meanwhile.
		fresh, err := s.ReservationRepo.GetByCorrelationID(ctx, rsv.CorrelationID)
		if err != nil {
			return err
		}
		if !fresh.ExpiredAt(now) {
			return nil
		}

		snap, err := s.QuotaRepo.Get(ctx, fresh.SnapshotID)
		if err != nil {
			return err
		}

		snap.Pending = decimal.Max(decimal.Zero, snap.Pending.Sub(fresh.Amount))
		snap.UpdatedAt = now
		snap.UpdatedBy = types.DefaultUserID
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		fresh.State = types.ReservationStateExpired
		fresh.UpdatedAt = now
		if err := s.ReservationRepo.Update(ctx, fresh); err != nil {
			return err
		}

		entry := &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      fresh.TenantID,
			SnapshotID:    snap.ID,
			CorrelationID: fresh.CorrelationID,
			Amount:        fresh.Amount,
			Bucket:        types.CreditBucketBase,
			EntryType:     types.LedgerEntryTypeRelease,
			ActorID:       types.DefaultUserID,
			CreatedAt:     now,
		}
		if err := s.LedgerRepo.Append(ctx, entry); err != nil {
			return err
		}

		s.Logger.Infow("released stale reservation",
			"correlation_id", fresh.CorrelationID,
			"tenant_id", fresh.TenantID,
			"amount", fresh.Amount,
		)
		return nil
	})
}
