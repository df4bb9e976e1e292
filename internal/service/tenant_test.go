package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/api/dto"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/tenant"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/testutil"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

type TenantServiceSuite struct {
	testutil.BaseServiceTestSuite
	service TenantService
	params  ServiceParams
}

func TestTenantService(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func (s *TenantServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = ServiceParams{
		Logger:          s.GetLogger(),
		Config:          s.GetConfig(),
		DB:              s.GetDB(),
		SnapshotCache:   s.GetSnapshotCache(),
		TenantRepo:      s.GetStores().TenantRepo,
		QuotaRepo:       s.GetStores().QuotaRepo,
		LedgerRepo:      s.GetStores().LedgerRepo,
		CreditRepo:      s.GetStores().CreditRepo,
		TransitionRepo:  s.GetStores().TransitionRepo,
		ReservationRepo: s.GetStores().ReservationRepo,
		ReminderRepo:    s.GetStores().ReminderRepo,
	}
	s.service = NewTenantService(s.params)
}

func (s *TenantServiceSuite) TestCreateTenantMaterializesFirstSnapshot() {
	anchor := time.Now().UTC().AddDate(0, 0, -10)
	resp, err := s.service.CreateTenant(s.GetContext(), &dto.CreateTenantRequest{
		Name:          "Forge Studio",
		Tier:          types.SubscriptionTierCore,
		Status:        types.SubscriptionStatusActive,
		BillingAnchor: anchor,
	})
	s.Require().NoError(err)

	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), resp.ID)
	s.Require().NoError(err)
	s.True(snap.PeriodStart.Equal(anchor))
	s.Equal("400", snap.BaseAllowance.String())
	s.True(snap.Contains(time.Now().UTC()))

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), resp.ID, "grant_"+snap.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.LedgerEntryTypeCredit, entries[0].EntryType)
}

func (s *TenantServiceSuite) TestCreateTenantRejectsFutureAnchor() {
	// An anchor ahead of now would produce a snapshot whose period has not
	// started, so the request is rejected outright.
	_, err := s.service.CreateTenant(s.GetContext(), &dto.CreateTenantRequest{
		Name:          "Forge Studio",
		Tier:          types.SubscriptionTierStarter,
		BillingAnchor: time.Now().UTC().AddDate(0, 0, 10),
	})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *TenantServiceSuite) seedActiveTenant() *tenant.Tenant {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Forge Studio",
		Tier:               types.SubscriptionTierPro,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingAnchor:      now.AddDate(0, 0, -10),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   now.AddDate(0, 0, -10),
		PeriodEnd:     now.AddDate(0, 0, 20),
		BaseAllowance: decimal.NewFromInt(1500),
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))
	return t
}

func (s *TenantServiceSuite) TestGrantAddOnCreditAddsToSnapshot() {
	t := s.seedActiveTenant()
	s.GetSnapshotCache().Set(cache.SnapshotKey(t.ID), &dto.SnapshotResponse{TenantID: t.ID})

	s.Require().NoError(s.service.GrantAddOnCredit(s.GetContext(), &dto.GrantCreditRequest{
		TenantID:        t.ID,
		CreditType:      types.CreditTypeBooster,
		Amount:          decimal.NewFromInt(200),
		ExternalEventID: "evt_grant_1",
	}))

	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal("200", snap.BoosterCredits.String())

	// The grant changes the entitlement view, so the cached copy goes.
	_, ok := s.GetSnapshotCache().Get(cache.SnapshotKey(t.ID))
	s.False(ok)
}

func (s *TenantServiceSuite) TestGrantAddOnCreditReplayAddsNothing() {
	t := s.seedActiveTenant()
	req := &dto.GrantCreditRequest{
		TenantID:        t.ID,
		CreditType:      types.CreditTypeBooster,
		Amount:          decimal.NewFromInt(200),
		ExternalEventID: "evt_grant_2",
	}
	s.Require().NoError(s.service.GrantAddOnCredit(s.GetContext(), req))

	// The redelivered purchase event is flagged before any insert, so the
	// transaction commits nothing and the balance stays single-granted.
	err := s.service.GrantAddOnCredit(s.GetContext(), req)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))

	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal("200", snap.BoosterCredits.String())

	credits, err := s.GetStores().CreditRepo.ListActive(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Len(credits, 1)
}
