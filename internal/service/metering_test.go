package service

import (
	"fmt"
	"sync"
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

type MeteringServiceSuite struct {
	testutil.BaseServiceTestSuite
	service MeteringService
	params  ServiceParams
}

func TestMeteringService(t *testing.T) {
	suite.Run(t, new(MeteringServiceSuite))
}

func (s *MeteringServiceSuite) SetupTest() {
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
	resolver := NewCreditResolverService(s.params)
	rollover := NewRolloverService(s.params)
	s.service = NewMeteringService(s.params, resolver, rollover)
}

// seedTenant creates a tenant with a current snapshot covering now.
func (s *MeteringServiceSuite) seedTenant(tier types.SubscriptionTier, status types.SubscriptionStatus, seats int) (*tenant.Tenant, *quota.Snapshot) {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Acme Workshop",
		Tier:               tier,
		SubscriptionStatus: status,
		SeatCount:          seats,
		BillingAnchor:      now.AddDate(0, 0, -10),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   now.AddDate(0, 0, -10),
		PeriodEnd:     now.AddDate(0, 0, 20),
		BaseAllowance: PooledAllowance(types.GetTierEntitlement(tier), seats),
		Consumed:      decimal.Zero,
		Pending:       decimal.Zero,
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))
	return t, snap
}

func (s *MeteringServiceSuite) currentSnapshot(tenantID string) *quota.Snapshot {
	snap, err := s.GetStores().QuotaRepo.GetCurrent(s.GetContext(), tenantID)
	s.Require().NoError(err)
	return snap
}

func (s *MeteringServiceSuite) TestReserveCommitFlow() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)

	resp, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(100),
		CorrelationID: "req-1",
	})
	s.NoError(err)
	s.True(resp.Allowed)
	s.Equal("1400", resp.Remaining.String())

	snap := s.currentSnapshot(t.ID)
	s.Equal("100", snap.Pending.String())
	s.Equal("0", snap.Consumed.String())

	commitResp, err := s.service.Commit(s.GetContext(), "req-1")
	s.NoError(err)
	s.True(commitResp.Committed)
	s.Equal("1400", commitResp.Remaining.String())

	snap = s.currentSnapshot(t.ID)
	s.Equal("0", snap.Pending.String())
	s.Equal("100", snap.Consumed.String())

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "req-1")
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("-100", entries[0].Amount.String())
	s.Equal(types.CreditBucketBase, entries[0].Bucket)
	s.Equal(types.LedgerEntryTypeDebit, entries[0].EntryType)
}

func (s *MeteringServiceSuite) TestReserveIdempotentReplay() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)
	req := &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(100),
		CorrelationID: "req-dup",
	}

	first, err := s.service.Reserve(s.GetContext(), req)
	s.NoError(err)
	s.True(first.Allowed)

	second, err := s.service.Reserve(s.GetContext(), req)
	s.NoError(err)
	s.True(second.Allowed)
	s.Equal("idempotent_replay", second.Reason)

	// The retry must not double-earmark.
	snap := s.currentSnapshot(t.ID)
	s.Equal("100", snap.Pending.String())
}

func (s *MeteringServiceSuite) TestCommitIdempotentReplay() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)
	_, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(50),
		CorrelationID: "req-commit-dup",
	})
	s.Require().NoError(err)

	_, err = s.service.Commit(s.GetContext(), "req-commit-dup")
	s.Require().NoError(err)
	resp, err := s.service.Commit(s.GetContext(), "req-commit-dup")
	s.NoError(err)
	s.True(resp.Committed)

	snap := s.currentSnapshot(t.ID)
	s.Equal("50", snap.Consumed.String())
	s.Equal("0", snap.Pending.String())
}

func (s *MeteringServiceSuite) TestSpendIdempotentReplay() {
	t, _ := s.seedTenant(types.SubscriptionTierCore, types.SubscriptionStatusActive, 0)
	req := &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(30),
		CorrelationID: "spend-dup",
	}

	first, err := s.service.Spend(s.GetContext(), req)
	s.NoError(err)
	s.True(first.Allowed)

	second, err := s.service.Spend(s.GetContext(), req)
	s.NoError(err)
	s.True(second.Allowed)
	s.Equal("idempotent_replay", second.Reason)

	snap := s.currentSnapshot(t.ID)
	s.Equal("30", snap.Consumed.String())
}

func (s *MeteringServiceSuite) TestReserveDeniedInsufficientCredit() {
	t, _ := s.seedTenant(types.SubscriptionTierStarter, types.SubscriptionStatusActive, 0)

	resp, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(150),
		CorrelationID: "req-over",
	})
	s.NoError(err)
	s.False(resp.Allowed)
	s.Equal("insufficient_credit", resp.Reason)
	s.Equal("100", resp.Remaining.String())

	// A denial leaves no reservation and no pending amount behind.
	_, err = s.GetStores().ReservationRepo.GetByCorrelationID(s.GetContext(), "req-over")
	s.True(ierr.IsNotFound(err))
	snap := s.currentSnapshot(t.ID)
	s.Equal("0", snap.Pending.String())
}

func (s *MeteringServiceSuite) TestReserveDeniedInactiveSubscription() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusCanceled, 0)

	resp, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(10),
		CorrelationID: "req-canceled",
	})
	s.NoError(err)
	s.False(resp.Allowed)
	s.Equal("subscription_inactive", resp.Reason)
}

func (s *MeteringServiceSuite) TestReleaseReturnsQuota() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)
	_, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(200),
		CorrelationID: "req-release",
	})
	s.Require().NoError(err)

	resp, err := s.service.Release(s.GetContext(), "req-release")
	s.NoError(err)
	s.True(resp.Released)
	s.Equal("1500", resp.Remaining.String())

	snap := s.currentSnapshot(t.ID)
	s.Equal("0", snap.Pending.String())
	s.Equal("0", snap.Consumed.String())

	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "req-release")
	s.NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.LedgerEntryTypeRelease, entries[0].EntryType)

	// A released reservation cannot be committed afterwards.
	_, err = s.service.Commit(s.GetContext(), "req-release")
	s.True(ierr.IsInvalidOperation(err))
}

func (s *MeteringServiceSuite) TestNearLimitFlag() {
	t, _ := s.seedTenant(types.SubscriptionTierStarter, types.SubscriptionStatusActive, 0)

	resp, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(90),
		CorrelationID: "spend-90",
	})
	s.NoError(err)
	s.True(resp.Allowed)
	s.True(resp.NearLimit)

	under, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(5),
		CorrelationID: "req-5",
	})
	s.NoError(err)
	s.True(under.Allowed)
	s.True(under.NearLimit)
}

func (s *MeteringServiceSuite) TestConcurrentReservesNeverOversell() {
	t, snap := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)

	// Shrink the allowance so only 4 of 5 concurrent reserves can fit.
	amount := decimal.NewFromInt(30)
	snap.BaseAllowance = amount.Mul(decimal.NewFromInt(4))
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	const n = 5
	results := make([]*dto.ReserveResponse, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.service.Reserve(s.GetContext(), &dto.ReserveRequest{
				TenantID:      t.ID,
				Amount:        amount,
				CorrelationID: fmt.Sprintf("concurrent-%d", i),
			})
			s.NoError(err)
			results[i] = resp
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, r := range results {
		if r != nil && r.Allowed {
			allowed++
		}
	}
	s.Equal(n-1, allowed)

	fresh := s.currentSnapshot(t.ID)
	s.Equal("120", fresh.Pending.String())
	// Conservation: consumed + pending + available always equals the total.
	sum := fresh.Consumed.Add(fresh.Pending).Add(fresh.Available())
	s.True(sum.Equal(fresh.TotalAllowance()))
}

func (s *MeteringServiceSuite) TestGraceCeilingLimitsPastDueSpend() {
	t, _ := s.seedTenant(types.SubscriptionTierStarter, types.SubscriptionStatusPastDue, 0)

	// Half of the 100 allowance is the ceiling while past due.
	denied, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(60),
		CorrelationID: "grace-over",
	})
	s.NoError(err)
	s.False(denied.Allowed)
	s.Equal("insufficient_credit", denied.Reason)

	allowed, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(40),
		CorrelationID: "grace-under",
	})
	s.NoError(err)
	s.True(allowed.Allowed)
}

func (s *MeteringServiceSuite) TestSuperAdminBypassDeductsNothing() {
	t, _ := s.seedTenant(types.SubscriptionTierStarter, types.SubscriptionStatusCanceled, 0)

	ctx := types.SetSuperAdmin(s.GetContext())
	resp, err := s.service.Reserve(ctx, &dto.ReserveRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(1000),
		CorrelationID: "admin-req",
	})
	s.NoError(err)
	s.True(resp.Allowed)

	// The bypass never touches the quota state.
	_, err = s.GetStores().ReservationRepo.GetByCorrelationID(s.GetContext(), "admin-req")
	s.True(ierr.IsNotFound(err))
	snap := s.currentSnapshot(t.ID)
	s.Equal("0", snap.Pending.String())
	s.Equal("0", snap.Consumed.String())

	// The spend still lands in the audit trail, attributed but undeducted.
	entries, err := s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "admin-req")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(types.LedgerEntryTypeBypass, entries[0].EntryType)
	s.Equal("-1000", entries[0].Amount.String())

	// A retry with the same correlation id writes no second entry.
	_, err = s.service.Spend(ctx, &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(1000),
		CorrelationID: "admin-req",
	})
	s.NoError(err)
	entries, err = s.GetStores().LedgerRepo.GetByCorrelationID(s.GetContext(), t.ID, "admin-req")
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *MeteringServiceSuite) TestSpendBeforePeriodStartDoesNotRemintAllowance() {
	now := time.Now().UTC()
	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Acme Workshop",
		Tier:               types.SubscriptionTierStarter,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingAnchor:      now.AddDate(0, 0, 10),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   now.AddDate(0, 0, 10),
		PeriodEnd:     now.AddDate(0, 1, 10),
		BaseAllowance: decimal.NewFromInt(100),
		Consumed:      decimal.Zero,
		Pending:       decimal.Zero,
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))

	// A snapshot whose period has not begun must not be replaced with a
	// fresh one on every spend; consumption accumulates and the allowance
	// runs out like in any other period.
	first, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(100),
		CorrelationID: "early-1",
	})
	s.NoError(err)
	s.True(first.Allowed)

	second, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(100),
		CorrelationID: "early-2",
	})
	s.NoError(err)
	s.False(second.Allowed)
	s.Equal("insufficient_credit", second.Reason)

	fresh := s.currentSnapshot(t.ID)
	s.Equal(snap.ID, fresh.ID)
	s.Equal("100", fresh.Consumed.String())
}

func (s *MeteringServiceSuite) TestGetSnapshotBreakdown() {
	t, snap := s.seedTenant(types.SubscriptionTierCore, types.SubscriptionStatusActive, 0)
	snap.RolloverBalance = decimal.NewFromInt(20)
	snap.Consumed = decimal.NewFromInt(410)
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	resp, err := s.service.GetSnapshot(s.GetContext(), t.ID)
	s.NoError(err)
	s.Equal("420", resp.Allowance.String())
	s.Equal("10", resp.Remaining.String())

	// Base drains before rollover, so consumption 410 leaves 10 in rollover.
	s.Equal("0", resp.BucketBreakdown[types.CreditBucketBase].Remaining.String())
	s.Equal("10", resp.BucketBreakdown[types.CreditBucketRollover].Remaining.String())
}

func (s *MeteringServiceSuite) TestSpendRollsPeriodInline() {
	t, snap := s.seedTenant(types.SubscriptionTierCore, types.SubscriptionStatusActive, 0)

	// Backdate the snapshot so its period ended before now; the spend must
	// land in a freshly rolled period.
	now := time.Now().UTC()
	snap.PeriodStart = now.AddDate(0, -2, 0)
	snap.PeriodEnd = now.AddDate(0, -1, 0)
	snap.Consumed = decimal.NewFromInt(300)
	s.Require().NoError(s.GetStores().QuotaRepo.Update(s.GetContext(), snap))

	resp, err := s.service.Spend(s.GetContext(), &dto.SpendRequest{
		TenantID:      t.ID,
		Amount:        decimal.NewFromInt(10),
		CorrelationID: "spend-after-boundary",
	})
	s.NoError(err)
	s.True(resp.Allowed)

	fresh := s.currentSnapshot(t.ID)
	s.NotEqual(snap.ID, fresh.ID)
	s.True(fresh.Contains(now))
	s.Equal("10", fresh.Consumed.String())
	// 100 unused * 0.2 rate carries 20 into the new period.
	s.Equal("20", fresh.RolloverBalance.String())
}

func (s *MeteringServiceSuite) TestGetAuditLog() {
	t, _ := s.seedTenant(types.SubscriptionTierPro, types.SubscriptionStatusActive, 0)
	lifecycle := NewLifecycleService(s.params, NewLogNotifier(s.GetLogger()))
	s.Require().NoError(lifecycle.HandlePaymentFailed(s.GetContext(), t.ID, nil))
	s.Require().NoError(lifecycle.HandlePaymentSucceeded(s.GetContext(), t.ID, nil))

	resp, err := s.service.GetAuditLog(s.GetContext(), t.ID, nil)
	s.NoError(err)
	s.Require().Equal(2, resp.Total)
	s.Equal(types.SubscriptionStatusPastDue, resp.Items[0].ToStatus)
	s.Equal(types.SubscriptionStatusActive, resp.Items[1].ToStatus)
}
