package types

import (
	"github.com/shopspring/decimal"
)

// SubscriptionTier is the ordered plan tier. Comparison uses tierRank.
type SubscriptionTier string

const (
	SubscriptionTierStarter    SubscriptionTier = "starter"
	SubscriptionTierCore       SubscriptionTier = "core"
	SubscriptionTierPro        SubscriptionTier = "pro"
	SubscriptionTierTeam       SubscriptionTier = "team"
	SubscriptionTierEnterprise SubscriptionTier = "enterprise"
)

var tierRank = map[SubscriptionTier]int{
	SubscriptionTierStarter:    0,
	SubscriptionTierCore:       1,
	SubscriptionTierPro:        2,
	SubscriptionTierTeam:       3,
	SubscriptionTierEnterprise: 4,
}

// Validate checks the tier is one of the known values.
func (t SubscriptionTier) Validate() bool {
	_, ok := tierRank[t]
	return ok
}

// Compare returns -1, 0 or 1 ordering t against other.
func (t SubscriptionTier) Compare(other SubscriptionTier) int {
	a, b := tierRank[t], tierRank[other]
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// TierEntitlement defines the allowance formula and rollover rules for a tier.
type TierEntitlement struct {
	// BaseAllowance is the flat per-period AI-unit allowance.
	BaseAllowance decimal.Decimal
	// PerSeatAllowance is the additional allowance per seat; zero for tiers
	// that are not seat priced.
	PerSeatAllowance decimal.Decimal
	// MinSeats is the minimum seat count required to hold the tier; zero for
	// non seat-priced tiers.
	MinSeats int
	// RolloverRate is the fraction of unused allowance carried into the next
	// period; zero disables rollover for the tier.
	RolloverRate decimal.Decimal
	// RolloverCapFraction caps the carried amount as a fraction of
	// BaseAllowance.
	RolloverCapFraction decimal.Decimal
}

// SeatPriced reports whether the tier's allowance pools across seats.
func (e TierEntitlement) SeatPriced() bool {
	return e.MinSeats > 0
}

// SupportsRollover reports whether unused allowance carries over.
func (e TierEntitlement) SupportsRollover() bool {
	return e.RolloverRate.IsPositive()
}

// TierEntitlements maps each tier to its allowance rules.
var TierEntitlements = map[SubscriptionTier]TierEntitlement{
	SubscriptionTierStarter: {
		BaseAllowance: decimal.NewFromInt(100),
	},
	SubscriptionTierCore: {
		BaseAllowance:       decimal.NewFromInt(400),
		RolloverRate:        decimal.NewFromFloat(0.2),
		RolloverCapFraction: decimal.NewFromFloat(0.2),
	},
	SubscriptionTierPro: {
		BaseAllowance:       decimal.NewFromInt(1500),
		RolloverRate:        decimal.NewFromFloat(0.25),
		RolloverCapFraction: decimal.NewFromFloat(0.25),
	},
	SubscriptionTierTeam: {
		BaseAllowance:       decimal.NewFromInt(2000),
		PerSeatAllowance:    decimal.NewFromInt(1000),
		MinSeats:            3,
		RolloverRate:        decimal.NewFromFloat(0.25),
		RolloverCapFraction: decimal.NewFromFloat(0.25),
	},
	SubscriptionTierEnterprise: {
		BaseAllowance:       decimal.NewFromInt(10000),
		PerSeatAllowance:    decimal.NewFromInt(1500),
		MinSeats:            10,
		RolloverRate:        decimal.NewFromFloat(0.3),
		RolloverCapFraction: decimal.NewFromFloat(0.5),
	},
}

// GetTierEntitlement returns the entitlement rules for a tier, defaulting to
// starter for unknown tiers.
func GetTierEntitlement(tier SubscriptionTier) TierEntitlement {
	if e, ok := TierEntitlements[tier]; ok {
		return e
	}
	return TierEntitlements[SubscriptionTierStarter]
}

// SubscriptionStatus is the tenant lifecycle status.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPaused   SubscriptionStatus = "paused"
)

// Validate checks the status is one of the known values.
func (s SubscriptionStatus) Validate() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled,
		SubscriptionStatusPaused:
		return true
	}
	return false
}

// validTransitions is the only source of truth for lifecycle moves. Anything
// not listed here is rejected, never coerced.
var validTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing: {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
	SubscriptionStatusActive:   {SubscriptionStatusPastDue, SubscriptionStatusCanceled, SubscriptionStatusPaused},
	SubscriptionStatusPastDue:  {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusCanceled: {SubscriptionStatusActive, SubscriptionStatusTrialing},
	SubscriptionStatusPaused:   {SubscriptionStatusActive, SubscriptionStatusCanceled},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowsSpend reports whether the status permits any spend at all. past_due
// spends at a reduced ceiling; the ceiling itself is enforced by the
// metering service, not here.
func (s SubscriptionStatus) AllowsSpend() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// TransitionReason is the audited reason code for a status change.
type TransitionReason string

const (
	TransitionReasonCheckoutCompleted TransitionReason = "checkout_completed"
	TransitionReasonPaymentSucceeded  TransitionReason = "payment_succeeded"
	TransitionReasonPaymentFailed     TransitionReason = "payment_failed"
	TransitionReasonProviderCanceled  TransitionReason = "provider_canceled"
	TransitionReasonProviderUpdated   TransitionReason = "provider_updated"
	TransitionReasonGraceElapsed      TransitionReason = "grace_period_elapsed"
	TransitionReasonTrialExpired      TransitionReason = "trial_expired"
	TransitionReasonManual            TransitionReason = "manual"
)
