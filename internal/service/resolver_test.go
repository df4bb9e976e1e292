package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/quota"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/testutil"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

type CreditResolverSuite struct {
	testutil.BaseServiceTestSuite
	service CreditResolverService
	params  ServiceParams
}

func TestCreditResolverService(t *testing.T) {
	suite.Run(t, new(CreditResolverSuite))
}

func (s *CreditResolverSuite) SetupTest() {
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
	s.service = NewCreditResolverService(s.params)
}

func (s *CreditResolverSuite) snapshot(base, rollover, booster, pack, consumed int64) *quota.Snapshot {
	now := time.Now().UTC()
	tenantID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	return &quota.Snapshot{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:        tenantID,
		PeriodStart:     now.AddDate(0, 0, -10),
		PeriodEnd:       now.AddDate(0, 0, 20),
		BaseAllowance:   decimal.NewFromInt(base),
		RolloverBalance: decimal.NewFromInt(rollover),
		BoosterCredits:  decimal.NewFromInt(booster),
		PackCredits:     decimal.NewFromInt(pack),
		Consumed:        decimal.NewFromInt(consumed),
		Current:         true,
		BaseModel:       types.GetDefaultBaseModel(tenantID, types.DefaultUserID),
	}
}

func (s *CreditResolverSuite) TestResolveDebitDrainsBucketsInPriorityOrder() {
	snap := s.snapshot(100, 20, 30, 50, 0)

	debits, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(130))
	s.NoError(err)
	s.Require().Len(debits, 3)
	s.Equal(types.CreditBucketBase, debits[0].Bucket)
	s.Equal("100", debits[0].Amount.String())
	s.Equal(types.CreditBucketRollover, debits[1].Bucket)
	s.Equal("20", debits[1].Amount.String())
	s.Equal(types.CreditBucketBooster, debits[2].Bucket)
	s.Equal("10", debits[2].Amount.String())
}

func (s *CreditResolverSuite) TestResolveDebitAccountsForPriorConsumption() {
	// 110 already consumed: base is gone and rollover is down to 10.
	snap := s.snapshot(100, 20, 30, 50, 110)

	debits, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(30))
	s.NoError(err)
	s.Require().Len(debits, 2)
	s.Equal(types.CreditBucketRollover, debits[0].Bucket)
	s.Equal("10", debits[0].Amount.String())
	s.Equal(types.CreditBucketBooster, debits[1].Bucket)
	s.Equal("20", debits[1].Amount.String())
}

func (s *CreditResolverSuite) TestResolveDebitAllOrNothing() {
	snap := s.snapshot(100, 0, 0, 0, 60)

	_, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(50))
	s.True(ierr.IsInsufficientCredit(err))
	details := ierr.ReportableDetails(err)
	s.Require().NotNil(details)
	s.Equal("40", details["remaining"].(decimal.Decimal).String())
}

func (s *CreditResolverSuite) TestResolveDebitDeniesOverLimitTenant() {
	snap := s.snapshot(100, 0, 0, 0, 0)
	snap.OverLimit = true

	_, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(1))
	s.True(ierr.IsInsufficientCredit(err))
}

func (s *CreditResolverSuite) TestResolveDebitRejectsNonPositiveAmount() {
	snap := s.snapshot(100, 0, 0, 0, 0)

	_, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.Zero)
	s.True(ierr.IsValidation(err))
}

func (s *CreditResolverSuite) TestApplyDebitConsumesSoonestExpiringPackFirst() {
	snap := s.snapshot(0, 0, 0, 80, 0)
	tenantID := snap.TenantID
	now := time.Now().UTC()

	late := now.AddDate(0, 2, 0)
	soon := now.AddDate(0, 1, 0)
	packLate := &credit.AddOnCredit{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ADDON_CREDIT),
		CreditType:    types.CreditTypePack,
		AmountGranted: decimal.NewFromInt(50),
		ExpiresAt:     &late,
		CreditStatus:  types.CreditStatusActive,
		BaseModel:     types.GetDefaultBaseModel(tenantID, types.DefaultUserID),
	}
	packSoon := &credit.AddOnCredit{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ADDON_CREDIT),
		CreditType:    types.CreditTypePack,
		AmountGranted: decimal.NewFromInt(30),
		ExpiresAt:     &soon,
		CreditStatus:  types.CreditStatusActive,
		BaseModel:     types.GetDefaultBaseModel(tenantID, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().CreditRepo.Create(s.GetContext(), packLate))
	s.Require().NoError(s.GetStores().CreditRepo.Create(s.GetContext(), packSoon))

	debits, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(40))
	s.Require().NoError(err)
	s.Require().NoError(s.service.ApplyDebit(s.GetContext(), snap, debits, "pack-spend"))

	// The soon-expiring pack drains fully before the later one is touched.
	fresh, err := s.GetStores().CreditRepo.Get(s.GetContext(), packSoon.ID)
	s.Require().NoError(err)
	s.Equal("30", fresh.AmountConsumed.String())
	fresh, err = s.GetStores().CreditRepo.Get(s.GetContext(), packLate.ID)
	s.Require().NoError(err)
	s.Equal("10", fresh.AmountConsumed.String())

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), tenantID, "pack-spend")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.CreditBucketPack, entries[0].Bucket)
	s.Equal("-40", entries[0].Amount.String())
}

func (s *CreditResolverSuite) TestApplyDebitWritesOneEntryPerBucket() {
	snap := s.snapshot(100, 20, 30, 0, 0)
	tenantID := snap.TenantID

	booster := &credit.AddOnCredit{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ADDON_CREDIT),
		CreditType:    types.CreditTypeBooster,
		AmountGranted: decimal.NewFromInt(30),
		CreditStatus:  types.CreditStatusActive,
		BaseModel:     types.GetDefaultBaseModel(tenantID, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().CreditRepo.Create(s.GetContext(), booster))

	debits, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(135))
	s.Require().NoError(err)
	s.Require().NoError(s.service.ApplyDebit(s.GetContext(), snap, debits, "multi-bucket"))

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), tenantID, "multi-bucket")
	s.Require().NoError(err)
	s.Require().Len(entries, 3)

	total := decimal.Zero
	for _, e := range entries {
		s.Equal(types.LedgerEntryTypeDebit, e.EntryType)
		s.Equal("multi-bucket", e.CorrelationID)
		total = total.Add(e.Amount)
	}
	s.Equal("-135", total.String())

	fresh, err := s.GetStores().CreditRepo.Get(s.GetContext(), booster.ID)
	s.Require().NoError(err)
	s.Equal("15", fresh.AmountConsumed.String())
}

func (s *CreditResolverSuite) TestApplyDebitFailsClosedOnMissingCreditRows() {
	// The snapshot claims booster balance but no credit row funds it.
	snap := s.snapshot(0, 0, 25, 0, 0)

	debits, err := s.service.ResolveDebit(s.GetContext(), snap, decimal.NewFromInt(25))
	s.Require().NoError(err)

	err = s.service.ApplyDebit(s.GetContext(), snap, debits, "orphan-booster")
	s.True(ierr.IsInternal(err))
}
