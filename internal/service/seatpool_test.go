package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/api/dto"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/tenant"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/testutil"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

func TestPooledAllowance(t *testing.T) {
	team := types.GetTierEntitlement(types.SubscriptionTierTeam)
	if got := PooledAllowance(team, 3); got.String() != "5000" {
		t.Errorf("team with 3 seats = %s, want 5000", got)
	}
	if got := PooledAllowance(team, 10); got.String() != "12000" {
		t.Errorf("team with 10 seats = %s, want 12000", got)
	}

	enterprise := types.GetTierEntitlement(types.SubscriptionTierEnterprise)
	if got := PooledAllowance(enterprise, 10); got.String() != "25000" {
		t.Errorf("enterprise with 10 seats = %s, want 25000", got)
	}

	// Non-seat tiers ignore the seat count entirely.
	pro := types.GetTierEntitlement(types.SubscriptionTierPro)
	if got := PooledAllowance(pro, 50); got.String() != "1500" {
		t.Errorf("pro with 50 seats = %s, want 1500", got)
	}
}

type SeatPoolServiceSuite struct {
	testutil.BaseServiceTestSuite
	service  SeatPoolService
	metering MeteringService
	params   ServiceParams
}

func TestSeatPoolService(t *testing.T) {
	suite.Run(t, new(SeatPoolServiceSuite))
}

func (s *SeatPoolServiceSuite) SetupTest() {
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
	s.service = NewSeatPoolService(s.params)
	resolver := NewCreditResolverService(s.params)
	rollover := NewRolloverService(s.params)
	s.metering = NewMeteringService(s.params, resolver, rollover)
}

// seedTeam creates a team tenant mid-period: 15 days elapsed, 15 remaining.
func (s *SeatPoolServiceSuite) seedTeam(seats int, consumed int64) (*tenant.Tenant, *quota.Snapshot) {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Seat Pool Co",
		Tier:               types.SubscriptionTierTeam,
		SubscriptionStatus: types.SubscriptionStatusActive,
		SeatCount:          seats,
		BillingAnchor:      now.AddDate(0, 0, -15),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   now.AddDate(0, 0, -15),
		PeriodEnd:     now.AddDate(0, 0, 15),
		BaseAllowance: PooledAllowance(t.Entitlement(), seats),
		Consumed:      decimal.NewFromInt(consumed),
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))
	return t, snap
}

func (s *SeatPoolServiceSuite) TestChangeSeatsAddsProratedAllowance() {
	t, _ := s.seedTeam(3, 0)

	s.Require().NoError(s.service.ChangeSeats(s.GetContext(), t.ID, 4))

	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	// One seat at the period midpoint adds half of the per-seat 1000.
	allowance, _ := snap.BaseAllowance.Float64()
	s.InDelta(5500, allowance, 1)

	updated, err := s.GetStores().TenantRepo.Get(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal(4, updated.SeatCount)
}

func (s *SeatPoolServiceSuite) TestChangeSeatsBelowMinimumRejected() {
	t, _ := s.seedTeam(3, 0)

	err := s.service.ChangeSeats(s.GetContext(), t.ID, 2)
	s.Error(err)
	s.True(ierr.IsValidation(err))

	unchanged, getErr := s.GetStores().TenantRepo.Get(s.GetContext(), t.ID)
	s.Require().NoError(getErr)
	s.Equal(3, unchanged.SeatCount)
}

func (s *SeatPoolServiceSuite) TestChangeSeatsRefreshesSnapshotView() {
	t, _ := s.seedTeam(3, 0)

	before, err := s.metering.GetSnapshot(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.Equal("5000", before.Allowance.String())

	s.Require().NoError(s.service.ChangeSeats(s.GetContext(), t.ID, 4))

	// The cached view from before the change must not be served back.
	after, err := s.metering.GetSnapshot(s.GetContext(), t.ID)
	s.Require().NoError(err)
	allowance, _ := after.Allowance.Float64()
	s.InDelta(5500, allowance, 1)
}

func (s *SeatPoolServiceSuite) TestChangeSeatsOnNonSeatTierRejected() {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Solo Studio",
		Tier:               types.SubscriptionTierPro,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingAnchor:      now.AddDate(0, 0, -15),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	err := s.service.ChangeSeats(s.GetContext(), t.ID, 5)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SeatPoolServiceSuite) TestChangeSeatsSameCountIsNoOp() {
	t, snap := s.seedTeam(3, 100)

	s.Require().NoError(s.service.ChangeSeats(s.GetContext(), t.ID, 3))

	after, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.True(snap.BaseAllowance.Equal(after.BaseAllowance))
}

func (s *SeatPoolServiceSuite) TestShrinkMarksOverLimitAndDeniesReserves() {
	// Four seats pool 6000; consumption nearly fills it.
	t, _ := s.seedTeam(4, 5800)

	s.Require().NoError(s.service.ChangeSeats(s.GetContext(), t.ID, 3))

	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.True(snap.OverLimit)
	// Existing consumption stands even above the shrunk allowance.
	s.Equal("5800", snap.Consumed.String())

	resp, reserveErr := s.metering.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(1),
		CorrelationID: "post-shrink",
	})
	s.NoError(reserveErr)
	s.False(resp.Allowed)
	s.Equal("insufficient_credit", resp.Reason)
}

func (s *SeatPoolServiceSuite) TestGrowClearsOverLimit() {
	t, snap := s.seedTeam(3, 4800)
	snap.OverLimit = true
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	s.Require().NoError(s.service.ChangeSeats(s.GetContext(), t.ID, 5))

	after, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), t.ID)
	s.Require().NoError(err)
	s.False(after.OverLimit)
}
