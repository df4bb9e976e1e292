package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/api/dto"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// TenantService handles tenant onboarding and add-on credit grants.
type TenantService interface {
	// CreateTenant registers a tenant and materializes its first quota
	// snapshot in the same transaction.
	CreateTenant(ctx context.Context, req *dto.CreateTenantRequest) (*dto.TenantResponse, error)

	// GetTenant retrieves a tenant by id.
	GetTenant(ctx context.Context, id string) (*dto.TenantResponse, error)

	// GrantAddOnCredit creates a booster or pack credit and adds its
	// balance to the current snapshot. A grant whose external event id was
	// already recorded returns ErrAlreadyExists so webhook replays cause
	// no duplicate balance.
	GrantAddOnCredit(ctx context.Context, req *dto.GrantCreditRequest) error
}

type tenantService struct {
	ServiceParams
}

// NewTenantService creates a new tenant service
func NewTenantService(p ServiceParams) TenantService {
	return &tenantService{ServiceParams: p}
}

func (s *tenantService) CreateTenant(ctx context.Context, req *dto.CreateTenantRequest) (*dto.TenantResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := req.ToTenant(types.GetUserID(ctx))
	if err := t.Validate(); err != nil {
		return nil, err
	}

	var resp *dto.TenantResponse
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.TenantRepo.Create(ctx, t); err != nil {
			return err
		}

		now := time.Now().UTC()
		start, end := PeriodBounds(t.BillingAnchor, now)
		base := PooledAllowance(t.Entitlement(), t.SeatCount)

		snap := &quota.Snapshot{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
			TenantID:      t.ID,
			PeriodStart:   start,
			PeriodEnd:     end,
			BaseAllowance: base,
			Consumed:      decimal.Zero,
			Pending:       decimal.Zero,
			Current:       true,
			BaseModel:     types.GetDefaultBaseModel(t.ID, types.GetUserID(ctx)),
		}
		if err := s.QuotaRepo.Create(ctx, snap); err != nil {
			return err
		}

		entry := &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      t.ID,
			SnapshotID:    snap.ID,
			CorrelationID: "grant_" + snap.ID,
			Amount:        base,
			Bucket:        types.CreditBucketBase,
			EntryType:     types.LedgerEntryTypeCredit,
			ActorID:       types.GetUserID(ctx),
			CreatedAt:     now,
		}
		if err := s.LedgerRepo.Append(ctx, entry); err != nil {
			return err
		}

		resp = dto.FromTenant(t)
		s.Logger.Infow("created tenant",
			"tenant_id", t.ID,
			"tier", t.Tier,
			"base_allowance", base,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *tenantService) GetTenant(ctx context.Context, id string) (*dto.TenantResponse, error) {
	t, err := s.TenantRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.FromTenant(t), nil
}

func (s *tenantService) GrantAddOnCredit(ctx context.Context, req *dto.GrantCreditRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.DB.LockKey(ctx, types.QuotaLockKey(req.TenantID), s.Config.Metering.LockTimeout); err != nil {
			return ierr.WithError(err).
				WithHint("Could not acquire the tenant quota lock").
				Mark(ierr.ErrDatabase)
		}

		if _, err := s.TenantRepo.Get(ctx, req.TenantID); err != nil {
			return err
		}

		// Replays are detected by lookup rather than by letting the insert
		// hit the unique index; a constraint violation would abort the
		// whole transaction.
		if req.ExternalEventID != "" {
			if _, err := s.CreditRepo.GetByEventID(ctx, req.TenantID, req.ExternalEventID); err == nil {
				s.Logger.Infow("skipping replayed credit purchase event",
					"tenant_id", req.TenantID,
					"external_event_id", req.ExternalEventID,
				)
				return ierr.NewError("purchase event already processed").
					WithReportableDetails(map[string]interface{}{
						"tenant_id":         req.TenantID,
						"external_event_id": req.ExternalEventID,
					}).
					Mark(ierr.ErrAlreadyExists)
			} else if !ierr.IsNotFound(err) {
				return err
			}
		}

		c := &credit.AddOnCredit{
			ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ADDON_CREDIT),
			CreditType:      req.CreditType,
			AmountGranted:   req.Amount,
			AmountConsumed:  decimal.Zero,
			ExpiresAt:       req.ExpiresAt,
			CreditStatus:    types.CreditStatusActive,
			ExternalEventID: req.ExternalEventID,
			BaseModel:       types.GetDefaultBaseModel(req.TenantID, types.GetUserID(ctx)),
		}
		if err := c.Validate(); err != nil {
			return err
		}
		if err := s.CreditRepo.Create(ctx, c); err != nil {
			return err
		}

		snap, err := s.QuotaRepo.GetCurrent(ctx, req.TenantID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		bucket := req.CreditType.Bucket()
		switch bucket {
		case types.CreditBucketBooster:
			snap.BoosterCredits = snap.BoosterCredits.Add(req.Amount)
		case types.CreditBucketPack:
			snap.PackCredits = snap.PackCredits.Add(req.Amount)
		}
		snap.UpdatedAt = now
		snap.UpdatedBy = types.GetUserID(ctx)
		if err := s.QuotaRepo.Update(ctx, snap); err != nil {
			return err
		}

		entry := &ledger.Entry{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_LEDGER_ENTRY),
			TenantID:      req.TenantID,
			SnapshotID:    snap.ID,
			CorrelationID: "grant_" + c.ID,
			Amount:        req.Amount,
			Bucket:        bucket,
			EntryType:     types.LedgerEntryTypeCredit,
			ActorID:       types.GetUserID(ctx),
			CreatedAt:     now,
		}
		if err := s.LedgerRepo.Append(ctx, entry); err != nil {
			return err
		}

		s.SnapshotCache.Delete(cache.SnapshotKey(req.TenantID))
		s.Logger.Infow("granted add-on credit",
			"tenant_id", req.TenantID,
			"credit_id", c.ID,
			"credit_type", req.CreditType,
			"amount", req.Amount,
		)
		return nil
	})
}
