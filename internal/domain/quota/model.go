package quota

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// Snapshot is the per-tenant, per-billing-period materialized quota view.
// Snapshots are replaced at period rollover, never mutated across periods;
// the prior snapshot is retained with Current=false.
type Snapshot struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	BaseAllowance   decimal.Decimal `json:"base_allowance"`
	RolloverBalance decimal.Decimal `json:"rollover_balance"`
	BoosterCredits  decimal.Decimal `json:"booster_credits"`
	PackCredits     decimal.Decimal `json:"pack_credits"`
	Consumed        decimal.Decimal `json:"consumed"`
	Pending         decimal.Decimal `json:"pending"`
	OverLimit       bool            `json:"over_limit"`
	Current         bool            `json:"current"`
	types.BaseModel
}

// TotalAllowance returns the spendable total across all buckets.
func (s *Snapshot) TotalAllowance() decimal.Decimal {
	return s.BaseAllowance.
		Add(s.RolloverBalance).
		Add(s.BoosterCredits).
		Add(s.PackCredits)
}

// Available returns headroom after consumed and pending reservations.
func (s *Snapshot) Available() decimal.Decimal {
	return s.TotalAllowance().Sub(s.Consumed).Sub(s.Pending)
}

// BucketBalance returns the remaining balance for one bucket. For base and
// rollover this accounts for consumption ordering: consumed amounts drain
// buckets in priority order, so the resolver is the authority on per-bucket
// drawdown; this returns the granted balance.
func (s *Snapshot) BucketBalance(bucket types.CreditBucket) decimal.Decimal {
	switch bucket {
	case types.CreditBucketBase:
		return s.BaseAllowance
	case types.CreditBucketRollover:
		return s.RolloverBalance
	case types.CreditBucketBooster:
		return s.BoosterCredits
	case types.CreditBucketPack:
		return s.PackCredits
	}
	return decimal.Zero
}

// ConsumedFraction returns consumed+pending over total allowance, or 1 when
// the total is zero.
func (s *Snapshot) ConsumedFraction() decimal.Decimal {
	total := s.TotalAllowance()
	if !total.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return s.Consumed.Add(s.Pending).Div(total)
}

// Contains reports whether t falls inside the snapshot's billing period.
func (s *Snapshot) Contains(t time.Time) bool {
	return !t.Before(s.PeriodStart) && t.Before(s.PeriodEnd)
}

// Validate validates the snapshot
func (s *Snapshot) Validate() error {
	if s.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if !s.PeriodEnd.After(s.PeriodStart) {
		return ierr.NewError("period_end must be after period_start").Mark(ierr.ErrValidation)
	}
	if s.BaseAllowance.IsNegative() || s.RolloverBalance.IsNegative() ||
		s.BoosterCredits.IsNegative() || s.PackCredits.IsNegative() {
		return ierr.NewError("allowance balances cannot be negative").Mark(ierr.ErrValidation)
	}
	if s.Consumed.IsNegative() || s.Pending.IsNegative() {
		return ierr.NewError("consumed and pending cannot be negative").Mark(ierr.ErrValidation)
	}
	return nil
}
