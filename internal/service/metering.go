package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/api/dto"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/reservation"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/domain/transition"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

const (
	reasonInactive = "subscription_inactive"
	reasonNoCredit = "insufficient_credit"
	reasonReplay   = "idempotent_replay"
)

// MeteringService is the synchronous entry point for every AI-invoking
// caller. All check-and-deduct paths run inside one transaction holding the
// per-tenant advisory lock; the lock is never held across a downstream call,
// which is what the two-phase Reserve/Commit flow exists for.
type MeteringService interface {
	// Reserve atomically earmarks amount from available to pending.
	Reserve(ctx context.Context, req *dto.ReserveRequest) (*dto.ReserveResponse, error)

	// Commit moves a pending reservation to consumed and writes the debit
	// ledger entries.
	Commit(ctx context.Context, correlationID string) (*dto.CommitResponse, error)

	// Release returns a pending reservation to the available pool.
	Release(ctx context.Context, correlationID string) (*dto.ReleaseResponse, error)

	// Spend is the single-phase reserve-and-commit for callers that cannot
	// straddle two calls.
	Spend(ctx context.Context, req *dto.SpendRequest) (*dto.SpendResponse, error)

	// GetSnapshot returns the tenant's current entitlement view.
	GetSnapshot(ctx context.Context, tenantID string) (*dto.SnapshotResponse, error)

	// GetAuditLog returns the ordered state transition history.
	GetAuditLog(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) (*dto.AuditLogResponse, error)
}

type meteringService struct {
	ServiceParams
	resolver CreditResolverService
	rollover RolloverService
}

// NewMeteringService creates a new metering service
func NewMeteringService(p ServiceParams, resolver CreditResolverService, rollover RolloverService) MeteringService {
	return &meteringService{
		ServiceParams: p,
		resolver:      resolver,
		rollover:      rollover,
	}
}

func (s *meteringService) Reserve(ctx context.Context, req *dto.ReserveRequest) (*dto.ReserveResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// The bypass capability is evaluated once, here, not per caller.
	if types.IsSuperAdmin(ctx) {
		if err := s.recordBypass(ctx, req.TenantID, req.CorrelationID, req.Amount); err != nil {
			return nil, err
		}
		return &dto.ReserveResponse{Allowed: true, Remaining: decimal.Zero}, nil
	}

	var resp *dto.ReserveResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.lockTenant(ctx, req.TenantID); err != nil {
			return err
		}

		// Idempotent replay: a reservation already exists for this id.
		if existing, err := s.ReservationRepo.GetByCorrelationID(ctx, req.CorrelationID); err == nil {
			snap, err := s.QuotaRepo.Get(ctx, existing.SnapshotID)
			if err != nil {
				return err
			}
			resp = &dto.ReserveResponse{
				Allowed:   existing.State != types.ReservationStateExpired,
				Remaining: snap.Available(),
				NearLimit: s.nearLimit(snap),
				Reason:    reasonReplay,
			}
			return nil
		} else if !ierr.IsNotFound(err) {
			return err
		}

		t, snap, err := s.loadSpendableState(ctx, req.TenantID)
		if err != nil {
			return err
		}

		if err := s.checkGraceCeiling(t, snap, req.Amount); err != nil {
			return err
		}

		plan, err := s.resolver.ResolveDebit(ctx, snap, req.Amount)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rsv := &reservation.Reservation{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION),
			CorrelationID: req.CorrelationID,
			TenantID:      req.TenantID,
			SnapshotID:    snap.ID,
			Amount:        req.Amount,
			State:         types.ReservationStatePending,
			BucketPlan:    plan,
			ExpiresAt:     now.Add(s.Config.Metering.ReservationTTL),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.ReservationRepo.Create(ctx, rsv); err != nil {
			return err
		}

		snap.Pending = snap.Pending.Add(req.Amount)
		snap.UpdatedAt = now
		snap.UpdatedBy = types.GetUserID(ctx)
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(req.TenantID))
		resp = &dto.ReserveResponse{
			Allowed:   true,
			Remaining: snap.Available(),
			NearLimit: s.nearLimit(snap),
		}
		return nil
	})
	if err != nil {
		return s.denialResponse(err)
	}
	return resp, nil
}

func (s *meteringService) Commit(ctx context.Context, correlationID string) (*dto.CommitResponse, error) {
	if correlationID == "" {
		return nil, ierr.NewError("correlation_id is required").Mark(ierr.ErrValidation)
	}

	var resp *dto.CommitResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		rsv, err := s.ReservationRepo.GetByCorrelationID(ctx, correlationID)
		if err != nil {
			return err
		}

		if err := s.lockTenant(ctx, rsv.TenantID); err != nil {
			return err
		}

		snap, err := s.QuotaRepo.Get(ctx, rsv.SnapshotID)
		if err != nil {
			return err
		}

		switch rsv.State {
		case types.ReservationStateCommitted:
			// Idempotent replay.
			resp = &dto.CommitResponse{Committed: true, Remaining: snap.Available(), NearLimit: s.nearLimit(snap)}
			return nil
		case types.ReservationStateReleased, types.ReservationStateExpired:
			return ierr.NewError("reservation is no longer pending").
				WithHintf("Reservation %s was already %s", correlationID, rsv.State).
				WithReportableDetails(map[string]interface{}{
					"correlation_id": correlationID,
					"state":          rsv.State,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		now := time.Now().UTC()
		if err := s.resolver.ApplyDebit(ctx, snap, rsv.BucketPlan, correlationID); err != nil {
			return err
		}

		snap.Pending = decimal.Max(decimal.Zero, snap.Pending.Sub(rsv.Amount))
		snap.Consumed = snap.Consumed.Add(rsv.Amount)
		snap.UpdatedAt = now
		snap.UpdatedBy = types.GetUserID(ctx)
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		rsv.State = types.ReservationStateCommitted
		rsv.UpdatedAt = now
		if err := s.ReservationRepo.Update(ctx, rsv); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(rsv.TenantID))
		resp = &dto.CommitResponse{Committed: true, Remaining: snap.Available(), NearLimit: s.nearLimit(snap)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *meteringService) Release(ctx context.Context, correlationID string) (*dto.ReleaseResponse, error) {
	if correlationID == "" {
		return nil, ierr.NewError("correlation_id is required").Mark(ierr.ErrValidation)
	}

	var resp *dto.ReleaseResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		rsv, err := s.ReservationRepo.GetByCorrelationID(ctx, correlationID)
		if err != nil {
			return err
		}

		if err := s.lockTenant(ctx, rsv.TenantID); err != nil {
			return err
		}

		snap, err := s.QuotaRepo.Get(ctx, rsv.SnapshotID)
		if err != nil {
			return err
		}

		switch rsv.State {
		case types.ReservationStateReleased, types.ReservationStateExpired:
			// Idempotent replay.
			resp = &dto.ReleaseResponse{Released: true, Remaining: snap.Available()}
			return nil
		case types.ReservationStateCommitted:
			return ierr.NewError("committed reservation cannot be released").
				WithReportableDetails(map[string]interface{}{"correlation_id": correlationID}).
				Mark(ierr.ErrInvalidOperation)
		}

		if err := s.releaseLocked(ctx, rsv, snap, types.ReservationStateReleased); err != nil {
			return err
		}

		resp = &dto.ReleaseResponse{Released: true, Remaining: snap.Available()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// releaseLocked returns a pending reservation's amount to the pool and
// writes the audit ledger entry. Callers hold the tenant lock.
func (s *meteringService) releaseLocked(ctx context.Context, rsv *reservation.Reservation, snap *quota.Snapshot, to types.ReservationState) error {
	now := time.Now().UTC()

	snap.Pending = decimal.Max(decimal.Zero, snap.Pending.Sub(rsv.Amount))
	snap.UpdatedAt = now
	snap.UpdatedBy = types.GetUserID(ctx)
	if err := s.QuotaRepo.Update(ctx, snap); err != nil {
		return err
	}

	rsv.State = to
	rsv.UpdatedAt = now
	if err := s.ReservationRepo.Update(ctx, rsv); err != nil {
		return err
	}

	entry := &ledger.Entry{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
		TenantID:      rsv.TenantID,
		SnapshotID:    snap.ID,
		CorrelationID: rsv.CorrelationID,
		Amount:        rsv.Amount,
		Bucket:        types.CreditBucketBase,
		EntryType:     types.LedgerEntryTypeRelease,
		ActorID:       types.GetUserID(ctx),
		CreatedAt:     now,
	}
	if err := s.LedgerRepo.Append(ctx, entry); err != nil {
		return err
	}

	s.SnapshotCache.Delete(cache.SnapshotKey(rsv.TenantID))
	return nil
}

func (s *meteringService) Spend(ctx context.Context, req *dto.SpendRequest) (*dto.SpendResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if types.IsSuperAdmin(ctx) {
		if err := s.recordBypass(ctx, req.TenantID, req.CorrelationID, req.Amount); err != nil {
			return nil, err
		}
		return &dto.SpendResponse{Allowed: true, Remaining: decimal.Zero}, nil
	}

	var resp *dto.SpendResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.lockTenant(ctx, req.TenantID); err != nil {
			return err
		}

		// Idempotent replay: the debit already exists for this id.
		if entries, err := s.LedgerRepo.GetByCorrelationID(ctx, req.TenantID, req.CorrelationID); err != nil {
			return err
		} else if len(entries) > 0 {
			snap, err := s.QuotaRepo.GetCurrent(ctx, req.TenantID)
			if err != nil {
				return err
			}
			resp = &dto.SpendResponse{
				Allowed:   true,
				Remaining: snap.Available(),
				NearLimit: s.nearLimit(snap),
				Reason:    reasonReplay,
			}
			return nil
		}

		t, snap, err := s.loadSpendableState(ctx, req.TenantID)
		if err != nil {
			return err
		}

		if err := s.checkGraceCeiling(t, snap, req.Amount); err != nil {
			return err
		}

		plan, err := s.resolver.ResolveDebit(ctx, snap, req.Amount)
		if err != nil {
			return err
		}

		if err := s.resolver.ApplyDebit(ctx, snap, plan, req.CorrelationID); err != nil {
			return err
		}

		now := time.Now().UTC()
		snap.Consumed = snap.Consumed.Add(req.Amount)
		snap.UpdatedAt = now
		snap.UpdatedBy = types.GetUserID(ctx)
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(req.TenantID))
		resp = &dto.SpendResponse{
			Allowed:   true,
			Remaining: snap.Available(),
			NearLimit: s.nearLimit(snap),
		}
		return nil
	})
	if err != nil {
		denial, derr := s.denialResponse(err)
		if derr != nil {
			return nil, derr
		}
		return &dto.SpendResponse{Allowed: false, Remaining: denial.Remaining, Reason: denial.Reason}, nil
	}
	return resp, nil
}

func (s *meteringService) GetSnapshot(ctx context.Context, tenantID string) (*dto.SnapshotResponse, error) {
	if cached, ok := s.SnapshotCache.Get(cache.SnapshotKey(tenantID)); ok {
		if resp, ok := cached.(*dto.SnapshotResponse); ok {
			return resp, nil
		}
	}

	t, err := s.TenantRepo.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap, err := s.QuotaRepo.GetCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	remaining := remainingByBucket(snap)
	breakdown := make(map[types.CreditBucket]dto.BucketView, 4)
	for _, bucket := range types.CreditBucketPriority() {
		breakdown[bucket] = dto.BucketView{
			Granted:   snap.BucketBalance(bucket),
			Remaining: remaining[bucket],
		}
	}

	resp := &dto.SnapshotResponse{
		TenantID:                 tenantID,
		PeriodStart:              snap.PeriodStart,
		PeriodEnd:                snap.PeriodEnd,
		Allowance:                snap.TotalAllowance(),
		Consumed:                 snap.Consumed,
		Pending:                  snap.Pending,
		Remaining:                snap.Available(),
		BucketBreakdown:          breakdown,
		SubscriptionStatus:       t.SubscriptionStatus,
		OverLimit:                snap.OverLimit,
		NearLimit:                s.nearLimit(snap),
		GracePeriodDaysRemaining: t.GraceDaysRemaining(time.Now().UTC()),
	}

	s.SnapshotCache.Set(cache.SnapshotKey(tenantID), resp)
	return resp, nil
}

func (s *meteringService) GetAuditLog(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) (*dto.AuditLogResponse, error) {
	if err := timeRange.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.TenantRepo.Get(ctx, tenantID); err != nil {
		return nil, err
	}

	records, err := s.TransitionRepo.ListByTenant(ctx, tenantID, timeRange)
	if err != nil {
		return nil, err
	}

	items := lo.Map(records, func(r *transition.Record, _ int) dto.AuditLogEntry {
		return dto.AuditLogEntry{
			ID:              r.ID,
			FromStatus:      r.FromStatus,
			ToStatus:        r.ToStatus,
			Reason:          r.Reason,
			ActorID:         r.ActorID,
			ExternalEventID: r.ExternalEventID,
			CreatedAt:       r.CreatedAt,
		}
	})

	return &dto.AuditLogResponse{Items: items, Total: len(items)}, nil
}

// recordBypass writes the audit trail for a super-admin spend. The
// entitlement check is skipped and nothing is deducted, but the ledger still
// shows who invoked what; repeated calls with the same correlation id write
// a single entry.
func (s *meteringService) recordBypass(ctx context.Context, tenantID, correlationID string, amount decimal.Decimal) error {
	s.Logger.Infow("super-admin bypass, skipping entitlement check",
		"tenant_id", tenantID,
		"correlation_id", correlationID,
	)

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.lockTenant(ctx, tenantID); err != nil {
			return err
		}

		existing, err := s.LedgerRepo.GetByCorrelationID(ctx, tenantID, correlationID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		snap, err := s.QuotaRepo.GetCurrent(ctx, tenantID)
		if err != nil {
			return err
		}

		entry := &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      tenantID,
			SnapshotID:    snap.ID,
			CorrelationID: correlationID,
			Amount:        amount.Neg(),
			Bucket:        types.CreditBucketBase,
			EntryType:     types.LedgerEntryTypeBypass,
			ActorID:       types.GetUserID(ctx),
			CreatedAt:     time.Now().UTC(),
		}
		return s.LedgerRepo.Append(ctx, entry)
	})
}

// lockTenant acquires the per-tenant advisory lock, mapping lock failures to
// the fail-closed database error category.
func (s *meteringService) lockTenant(ctx context.Context, tenantID string) error {
	if err := s.DB.LockKey(ctx, types.QuotaLockKey(tenantID), s.Config.Metering.LockTimeout); err != nil {
		return ierr.WithError(err).
			WithHint("The metering store is unavailable; retry with the same correlation id").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// loadSpendableState fetches the tenant and its current snapshot, rolling
// the period forward inline when the boundary has passed but the sweep has
// not yet run. Returns ErrSubscriptionInactive when the status forbids spend.
func (s *meteringService) loadSpendableState(ctx context.Context, tenantID string) (*tenant.Tenant, *quota.Snapshot, error) {
	t, err := s.TenantRepo.Get(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	if !t.SubscriptionStatus.AllowsSpend() {
		return nil, nil, ierr.NewError("subscription does not permit spending").
			WithHintf("The subscription is %s; reactivate it to continue using AI actions", t.SubscriptionStatus).
			WithReportableDetails(map[string]interface{}{
				"tenant_id": tenantID,
				"status":    t.SubscriptionStatus,
			}).
			Mark(ierr.ErrSubscriptionInactive)
	}

	snap, err := s.QuotaRepo.GetCurrent(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	if !snap.Contains(now) {
		// Period boundary passed since the last sweep; roll inline so the
		// spend lands in the correct period. RollTenant joins this
		// transaction and re-acquires the same (reentrant) lock.
		if err := s.rollover.RollTenant(ctx, tenantID, now); err != nil {
			return nil, nil, err
		}
		snap, err = s.QuotaRepo.GetCurrent(ctx, tenantID)
		if err != nil {
			return nil, nil, err
		}
	}

	return t, snap, nil
}

// checkGraceCeiling enforces the reduced spending ceiling for past_due
// tenants: consumption may not exceed graceQuotaFraction of the total
// allowance while the grace window is open.
func (s *meteringService) checkGraceCeiling(t *tenant.Tenant, snap *quota.Snapshot, amount decimal.Decimal) error {
	if t.SubscriptionStatus != types.SubscriptionStatusPastDue {
		return nil
	}

	ceiling := snap.TotalAllowance().Mul(s.Config.Metering.GraceQuotaFraction)
	projected := snap.Consumed.Add(snap.Pending).Add(amount)
	if projected.GreaterThan(ceiling) {
		return ierr.NewError("grace period spending ceiling reached").
			WithHint("Usage is limited while payment is past due; update the payment method to restore the full allowance").
			WithReportableDetails(map[string]interface{}{
				"required":  amount,
				"remaining": decimal.Max(decimal.Zero, ceiling.Sub(snap.Consumed).Sub(snap.Pending)),
				"ceiling":   ceiling,
			}).
			Mark(ierr.ErrInsufficientCredit)
	}
	return nil
}

func (s *meteringService) nearLimit(snap *quota.Snapshot) bool {
	return snap.ConsumedFraction().GreaterThanOrEqual(s.Config.Metering.NearLimitThreshold)
}

// denialResponse converts expected business denials into ordinary responses;
// infrastructure errors keep propagating (fail closed).
func (s *meteringService) denialResponse(err error) (*dto.ReserveResponse, error) {
	switch {
	case ierr.IsInsufficientCredit(err):
		remaining := decimal.Zero
		if details := ierr.ReportableDetails(err); details != nil {
			if r, ok := details["remaining"].(decimal.Decimal); ok {
				remaining = r
			}
		}
		return &dto.ReserveResponse{Allowed: false, Remaining: remaining, Reason: reasonNoCredit}, nil
	case ierr.IsSubscriptionInactive(err):
		return &dto.ReserveResponse{Allowed: false, Remaining: decimal.Zero, Reason: reasonInactive}, nil
	default:
		return nil, err
	}
}
