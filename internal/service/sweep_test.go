package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/reservation"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/testutil"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

type SweepServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SweepService
	params  ServiceParams
}

func TestSweepService(t *testing.T) {
	suite.Run(t, new(SweepServiceSuite))
}

func (s *SweepServiceSuite) SetupTest() {
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
	rollover := NewRolloverService(s.params)
	lifecycle := NewLifecycleService(s.params, NewLogNotifier(s.GetLogger()))
	s.service = NewSweepService(s.params, rollover, lifecycle)
}

// seedTenant creates a tenant whose current period started periodAgoDays ago
// and runs for 30 days from that start.
func (s *SweepServiceSuite) seedTenant(status types.SubscriptionStatus, periodAgoDays int) (*tenant.Tenant, *quota.Snapshot) {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Sweep Works",
		Tier:               types.SubscriptionTierPro,
		SubscriptionStatus: status,
		BillingAnchor:      now.AddDate(0, 0, -periodAgoDays),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   t.BillingAnchor,
		PeriodEnd:     t.BillingAnchor.AddDate(0, 0, 30),
		BaseAllowance: decimal.NewFromInt(1500),
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))
	return t, snap
}

func (s *SweepServiceSuite) TestRolloverSweepRollsOnlyExpiredPeriods() {
	expired, expiredSnap := s.seedTenant(types.SubscriptionStatusActive, 45)
	fresh, freshSnap := s.seedTenant(types.SubscriptionStatusActive, 10)

	s.Require().NoError(s.service.RolloverSweep(s.GetContext()))

	rolled, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), expired.ID)
	s.Require().NoError(err)
	s.NotEqual(expiredSnap.ID, rolled.ID)
	s.True(rolled.Contains(time.Now().UTC()))

	untouched, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), fresh.ID)
	s.Require().NoError(err)
	s.Equal(freshSnap.ID, untouched.ID)
}

func (s *SweepServiceSuite) TestGraceSweepCancelsElapsedTenants() {
	t, _ := s.seedTenant(types.SubscriptionStatusPastDue, 10)
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -9)
	end := start.AddDate(0, 0, s.GetConfig().Metering.GracePeriodDays)
	t.GraceStartedAt = &start
	t.GraceExpiresAt = &end
	s.Require().NoError(s.GetStores().TenantRepo.Update(s.GetContext(), t))

	s.Require().NoError(s.service.GraceSweep(s.GetContext()))

	updated, err := s.GetStores().TenantRepo.Get(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, updated.SubscriptionStatus)
}

func (s *SweepServiceSuite) TestPackExpirySweepForfeitsRemainder() {
	t, snap := s.seedTenant(types.SubscriptionStatusActive, 10)
	snap.PackCredits = decimal.NewFromInt(50)
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	expiry := time.Now().UTC().Add(-time.Hour)
	pack := &credit.AddOnCredit{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ADDON_CREDIT),
		CreditType:     types.CreditTypePack,
		AmountGranted:  decimal.NewFromInt(50),
		AmountConsumed: decimal.NewFromInt(20),
		ExpiresAt:      &expiry,
		CreditStatus:   types.CreditStatusActive,
		BaseModel:      types.GetDefaultBaseModel(t.ID, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().CreditRepo.Create(s.GetContext(), pack))

	s.Require().NoError(s.service.PackExpirySweep(s.GetContext()))

	expired, err := s.GetStores().CreditRepo.Get(s.GetContext(), pack.ID)
	s.Require().NoError(err)
	s.Equal(types.CreditStatusExpired, expired.CreditStatus)

	after, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal("20", after.PackCredits.String())

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "expire_"+pack.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("-30", entries[0].Amount.String())
	s.Equal(types.LedgerEntryTypeForfeit, entries[0].EntryType)

	// The sweep is re-runnable; the expired credit is skipped.
	s.Require().NoError(s.service.PackExpirySweep(s.GetContext()))
	entries, err = s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "expire_"+pack.ID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *SweepServiceSuite) TestReservationSweepReleasesStaleHolds() {
	t, snap := s.seedTenant(types.SubscriptionStatusActive, 10)
	snap.Pending = decimal.NewFromInt(50)
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	now := time.Now().UTC()
	stale := &reservation.Reservation{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RESERVATION),
		CorrelationID: "stale-1",
		TenantID:      t.ID,
		SnapshotID:    snap.ID,
		Amount:        decimal.NewFromInt(50),
		State:         types.ReservationStatePending,
		BucketPlan:    []reservation.BucketDebit{{Bucket: types.CreditBucketBase, Amount: decimal.NewFromInt(50)}},
		ExpiresAt:     now.Add(-time.Minute),
		CreatedAt:     now.Add(-time.Hour),
		UpdatedAt:     now.Add(-time.Hour),
	}
	s.Require().NoError(s.GetStores().ReservationRepo.Create(s.GetContext(), stale))

	s.Require().NoError(s.service.ReservationSweep(s.GetContext()))

	released, err := s.GetStores().ReservationRepo.GetByCorrelationID(s.GetContext(), "stale-1")
	s.Require().NoError(err)
	s.Equal(types.ReservationStateExpired, released.State)

	after, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal("0", after.Pending.String())

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "stale-1")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.LedgerEntryTypeRelease, entries[0].EntryType)

	// Re-running finds no pending holds and changes nothing.
	s.Require().NoError(s.service.ReservationSweep(s.GetContext()))
	entries, err = s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "stale-1")
	s.Require().NoError(err)
	s.Len(entries, 1)
}
