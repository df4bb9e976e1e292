package tenant

import (
	"time"

	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// Tenant represents the domain model for a subscription holder, the unit of
// metering.
type Tenant struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Tier               types.SubscriptionTier   `json:"tier"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	SeatCount          int                      `json:"seat_count"`
	BillingAnchor      time.Time                `json:"billing_anchor"`
	TrialEndsAt        *time.Time               `json:"trial_ends_at,omitempty"`
	GraceStartedAt     *time.Time               `json:"grace_started_at,omitempty"`
	GraceExpiresAt     *time.Time               `json:"grace_expires_at,omitempty"`
	types.BaseModel
}

// Validate validates the tenant
func (t *Tenant) Validate() error {
	if t.Name == "" {
		return ierr.NewError("name is required").Mark(ierr.ErrValidation)
	}
	if !t.Tier.Validate() {
		return ierr.NewError("invalid subscription tier").
			WithReportableDetails(map[string]interface{}{"tier": t.Tier}).
			Mark(ierr.ErrValidation)
	}
	if !t.SubscriptionStatus.Validate() {
		return ierr.NewError("invalid subscription status").
			WithReportableDetails(map[string]interface{}{"status": t.SubscriptionStatus}).
			Mark(ierr.ErrValidation)
	}
	if t.BillingAnchor.IsZero() {
		return ierr.NewError("billing_anchor is required").Mark(ierr.ErrValidation)
	}

	entitlement := types.GetTierEntitlement(t.Tier)
	if entitlement.SeatPriced() && t.SeatCount < entitlement.MinSeats {
		return ierr.NewError("seat count below tier minimum").
			WithHintf("The %s tier requires at least %d seats", t.Tier, entitlement.MinSeats).
			WithReportableDetails(map[string]interface{}{
				"tier":       t.Tier,
				"seat_count": t.SeatCount,
				"min_seats":  entitlement.MinSeats,
			}).
			Mark(ierr.ErrValidation)
	}

	return nil
}

// Entitlement returns the tier entitlement rules for this tenant.
func (t *Tenant) Entitlement() types.TierEntitlement {
	return types.GetTierEntitlement(t.Tier)
}

// InGracePeriod reports whether the tenant is inside an unexpired grace
// window at the given time.
func (t *Tenant) InGracePeriod(now time.Time) bool {
	return t.GraceStartedAt != nil && t.GraceExpiresAt != nil && now.Before(*t.GraceExpiresAt)
}

// GraceDaysRemaining returns the number of whole grace days left, or 0 when
// no grace window is open.
func (t *Tenant) GraceDaysRemaining(now time.Time) int {
	if t.GraceExpiresAt == nil || !now.Before(*t.GraceExpiresAt) {
		return 0
	}
	remaining := t.GraceExpiresAt.Sub(now)
	days := int(remaining.Hours() / 24)
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}
